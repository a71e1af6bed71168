package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stockline/api/internal/repositories"
)

const (
	orderCounterID     = "orders"
	orderNumberPrefix  = "ORD-"
	orderNumberPadding = 6
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
}

type counterService struct {
	repo repositories.CounterRepository
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
// Allocation joins the caller's unit of work, so a rolled back caller releases the value.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	return &counterService{repo: deps.Repository}, nil
}

func (s *counterService) Next(ctx context.Context, name string, opts CounterGenerationOptions) (CounterValue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}
	step := opts.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return CounterValue{}, fmt.Errorf("%w: step must be positive", ErrCounterInvalidInput)
	}
	if opts.PadLength < 0 {
		return CounterValue{}, fmt.Errorf("%w: pad length must be non-negative", ErrCounterInvalidInput)
	}

	value, err := s.repo.Next(ctx, name, step)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.IsInvalidInput() {
			return CounterValue{}, fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		}
		return CounterValue{}, err
	}
	return CounterValue{Value: value, Formatted: formatCounter(value, opts)}, nil
}

func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	value, err := s.Next(ctx, orderCounterID, CounterGenerationOptions{
		Step:      1,
		Prefix:    orderNumberPrefix,
		PadLength: orderNumberPadding,
	})
	if err != nil {
		return "", err
	}
	return value.Formatted, nil
}

func formatCounter(value int64, opts CounterGenerationOptions) string {
	digits := strconv.FormatInt(value, 10)
	if pad := opts.PadLength - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return opts.Prefix + digits
}
