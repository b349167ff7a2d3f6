package main

import (
	"errors"
	"fmt"
)

// ErrNotFound é retornado pelo repositório quando a linha não existe
var ErrNotFound = errors.New("not found")

// ErrStateConflict é retornado quando uma atualização condicional de status
// não afeta nenhuma linha (o estado atual não é mais o esperado)
var ErrStateConflict = errors.New("state transition conflict")

// ErrNotAllowed é retornado quando a checagem de capacidade na entrada da
// operação falha (principal sem o papel exigido)
var ErrNotAllowed = errors.New("operation requires admin capability")

// ValidationError indica entrada inválida rejeitada antes de qualquer
// mutação. O chamador pode corrigir a entrada e tentar de novo.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError indica uma operação que perdeu uma corrida ou chegou fora
// de ordem (anúncio duplicado, saque fora de pending, evento já conciliado).
// Nunca deixa estado parcial.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Op, e.Reason)
}

func newConflictError(op, reason string) error {
	return &ConflictError{Op: op, Reason: reason}
}

// ExternalGatewayError indica falha na chamada ao provedor PIX (timeout ou
// resposta não-2xx). Retryable: o sistema fica no estado anterior à chamada.
type ExternalGatewayError struct {
	Op  string
	Err error
}

func (e *ExternalGatewayError) Error() string {
	return fmt.Sprintf("pix gateway %s failed: %v", e.Op, e.Err)
}

func (e *ExternalGatewayError) Unwrap() error {
	return e.Err
}

func newGatewayError(op string, err error) error {
	return &ExternalGatewayError{Op: op, Err: err}
}

// InvariantViolationError indica um estado que não deveria ser possível
// (saldo ficaria negativo, fulfillment falhou com pagamento confirmado).
// A transação inteira é revertida e o caso vai para o canal do operador.
type InvariantViolationError struct {
	Reason string
	Err    error
}

func (e *InvariantViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invariant violation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

func (e *InvariantViolationError) Unwrap() error {
	return e.Err
}

func newInvariantViolation(reason string, err error) error {
	return &InvariantViolationError{Reason: reason, Err: err}
}

// IsValidation informa se o erro é da categoria ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict informa se o erro é da categoria ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsGateway informa se o erro é da categoria ExternalGatewayError
func IsGateway(err error) bool {
	var ge *ExternalGatewayError
	return errors.As(err, &ge)
}

// IsInvariantViolation informa se o erro é da categoria InvariantViolationError
func IsInvariantViolation(err error) bool {
	var ie *InvariantViolationError
	return errors.As(err, &ie)
}
