package domain

import "golang.org/x/xerrors"

var (
	// ErrStoreUnavailable indica que o store compartilhado não respondeu
	// (rede, timeout, cliente fechado, réplica carregando...).
	ErrStoreUnavailable = xerrors.New("shared store unavailable")

	// ErrPlanLookup indica falha ao consultar o plano de um tenant no banco de negócio.
	ErrPlanLookup = xerrors.New("plan lookup failed")
)

// StoreError embrulha um erro devolvido pelo store.
type StoreError struct {
	Op  string
	Key string
	// Unavailable distingue falha de infraestrutura de erro lógico (ex.: WRONGTYPE).
	Unavailable bool
	Err         error
}

func (e *StoreError) Error() string {
	msg := "store " + e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is permite xerrors.Is(err, ErrStoreUnavailable).
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable && e.Unavailable
}

// IsStoreUnavailable informa se err representa indisponibilidade do store.
func IsStoreUnavailable(err error) bool {
	return err != nil && xerrors.Is(err, ErrStoreUnavailable)
}

// PlanLookupError embrulha a falha de consulta de plano de um tenant.
type PlanLookupError struct {
	Tenant TenantID
	Err    error
}

func (e *PlanLookupError) Error() string {
	return "plan lookup for tenant " + string(e.Tenant) + ": " + e.Err.Error()
}

func (e *PlanLookupError) Unwrap() error { return e.Err }

func (e *PlanLookupError) Is(target error) bool { return target == ErrPlanLookup }
