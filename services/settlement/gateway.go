package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Customer identifica o pagador junto ao provedor PIX
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	TaxID string `json:"taxID,omitempty"`
}

// Charge é o resultado da criação de uma cobrança PIX
type Charge struct {
	ChargeID      string `json:"chargeId"`
	QRCode        string `json:"qrCode"`
	CopyPasteCode string `json:"copyPasteCode"`
}

// ChargeStatus é o resultado da consulta de status de uma cobrança
type ChargeStatus struct {
	Status string     `json:"status"`
	PaidAt *time.Time `json:"paidAt,omitempty"`
}

// Transfer é o resultado de um payout PIX
type Transfer struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
}

// PixGateway abstrai o provedor PIX. Toda operação aceita um correlationID
// que o provedor trata como chave de idempotência: repetir a chamada com a
// mesma chave nunca gera cobrança/transferência duplicada.
type PixGateway interface {
	CreateCharge(ctx context.Context, amount int64, correlationID string, customer Customer) (*Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (*ChargeStatus, error)
	CreateTransfer(ctx context.Context, amount int64, pixKey, pixKeyType, correlationID string) (*Transfer, error)
}

// PixClient implementa PixGateway sobre a API REST do provedor
type PixClient struct {
	http *resty.Client
}

// NewPixClient cria o cliente com timeout limitado: a chamada ao provedor é
// o único passo de rede do núcleo e nunca pode segurar uma transação aberta
func NewPixClient(baseURL, apiKey string, timeout time.Duration) *PixClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", apiKey).
		SetHeader("Content-Type", "application/json")

	return &PixClient{http: client}
}

type chargeRequest struct {
	CorrelationID string   `json:"correlationID"`
	Value         int64    `json:"value"`
	Customer      Customer `json:"customer"`
}

type chargeResponse struct {
	Charge struct {
		TransactionID string `json:"transactionID"`
		Status        string `json:"status"`
		BRCode        string `json:"brCode"`
		QRCodeImage   string `json:"qrCodeImage"`
		PaidAt        string `json:"paidAt"`
	} `json:"charge"`
}

// CreateCharge cria uma cobrança PIX no provedor
func (c *PixClient) CreateCharge(ctx context.Context, amount int64, correlationID string, customer Customer) (*Charge, error) {
	var out chargeResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chargeRequest{
			CorrelationID: correlationID,
			Value:         amount,
			Customer:      customer,
		}).
		SetResult(&out).
		Post("/api/v1/charge")
	if err != nil {
		return nil, newGatewayError("create_charge", err)
	}
	if resp.IsError() {
		return nil, newGatewayError("create_charge",
			fmt.Errorf("provider returned %d: %s", resp.StatusCode(), resp.String()))
	}

	return &Charge{
		ChargeID:      out.Charge.TransactionID,
		QRCode:        out.Charge.QRCodeImage,
		CopyPasteCode: out.Charge.BRCode,
	}, nil
}

// GetChargeStatus consulta o status atual de uma cobrança no provedor
func (c *PixClient) GetChargeStatus(ctx context.Context, chargeID string) (*ChargeStatus, error) {
	var out chargeResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/v1/charge/" + chargeID)
	if err != nil {
		return nil, newGatewayError("get_charge_status", err)
	}
	if resp.IsError() {
		return nil, newGatewayError("get_charge_status",
			fmt.Errorf("provider returned %d: %s", resp.StatusCode(), resp.String()))
	}

	status := &ChargeStatus{Status: out.Charge.Status}
	if out.Charge.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, out.Charge.PaidAt); err == nil {
			status.PaidAt = &paidAt
		}
	}
	return status, nil
}

type transferRequest struct {
	CorrelationID string `json:"correlationID"`
	Value         int64  `json:"value"`
	PixKey        string `json:"pixKey"`
	PixKeyType    string `json:"pixKeyType"`
}

type transferResponse struct {
	Transfer struct {
		TransferID string `json:"transferID"`
		Status     string `json:"status"`
	} `json:"transfer"`
}

// CreateTransfer executa um payout PIX. O correlationID (id do saque) faz o
// provedor deduplicar retries: reaprovar o mesmo saque nunca paga duas vezes.
func (c *PixClient) CreateTransfer(ctx context.Context, amount int64, pixKey, pixKeyType, correlationID string) (*Transfer, error) {
	var out transferResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(transferRequest{
			CorrelationID: correlationID,
			Value:         amount,
			PixKey:        pixKey,
			PixKeyType:    pixKeyType,
		}).
		SetResult(&out).
		Post("/api/v1/transfer")
	if err != nil {
		return nil, newGatewayError("create_transfer", err)
	}
	if resp.IsError() {
		return nil, newGatewayError("create_transfer",
			fmt.Errorf("provider returned %d: %s", resp.StatusCode(), resp.String()))
	}

	return &Transfer{
		TransferID: out.Transfer.TransferID,
		Status:     out.Transfer.Status,
	}, nil
}
