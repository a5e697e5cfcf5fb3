package registry

import (
	"fmt"

	"github.com/smallbiznis/expertly/internal/payment/domain"
)

// Registry resolves the strategies for a payment type. Every capability has
// its own table keyed by the enum so a gap in one surfaces on its own.
type Registry struct {
	validators map[domain.PaymentType]domain.AmountValidator
	providers  map[domain.PaymentType]domain.OrderInfoProvider
	savers     map[domain.PaymentType]domain.PaymentSaver
	cancels    map[domain.PaymentType]domain.CancellationHandler
}

func New(handlers ...domain.TypeHandler) *Registry {
	r := &Registry{
		validators: map[domain.PaymentType]domain.AmountValidator{},
		providers:  map[domain.PaymentType]domain.OrderInfoProvider{},
		savers:     map[domain.PaymentType]domain.PaymentSaver{},
		cancels:    map[domain.PaymentType]domain.CancellationHandler{},
	}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		r.Register(h)
	}
	return r
}

// Register installs h for its payment type, replacing any previous handler.
func (r *Registry) Register(h domain.TypeHandler) {
	t := h.PaymentType()
	r.validators[t] = h
	r.providers[t] = h
	r.savers[t] = h
	if c, ok := h.(domain.CancellationHandler); ok {
		r.cancels[t] = c
	} else {
		delete(r.cancels, t)
	}
}

func (r *Registry) Validator(t domain.PaymentType) (domain.AmountValidator, error) {
	v, ok := r.validators[t]
	if !ok {
		return nil, unsupported(t)
	}
	return v, nil
}

func (r *Registry) InfoProvider(t domain.PaymentType) (domain.OrderInfoProvider, error) {
	p, ok := r.providers[t]
	if !ok {
		return nil, unsupported(t)
	}
	return p, nil
}

func (r *Registry) Saver(t domain.PaymentType) (domain.PaymentSaver, error) {
	s, ok := r.savers[t]
	if !ok {
		return nil, unsupported(t)
	}
	return s, nil
}

// CancellationHook is optional; a nil hook means nothing to undo.
func (r *Registry) CancellationHook(t domain.PaymentType) domain.CancellationHandler {
	return r.cancels[t]
}

// Resolve parses a raw type name and checks that all three strategies exist.
func (r *Registry) Resolve(raw string) (domain.PaymentType, error) {
	t, ok := domain.ParsePaymentType(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedPaymentType, raw)
	}
	if _, err := r.Validator(t); err != nil {
		return "", err
	}
	if _, err := r.InfoProvider(t); err != nil {
		return "", err
	}
	if _, err := r.Saver(t); err != nil {
		return "", err
	}
	return t, nil
}

func unsupported(t domain.PaymentType) error {
	return fmt.Errorf("%w: %s", domain.ErrUnsupportedPaymentType, t)
}
