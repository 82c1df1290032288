package cart

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/auth"
)

// Repository is the cart and catalog storage used by Service.
type Repository interface {
	// Product returns (nil, nil) when the product does not exist.
	Product(ctx context.Context, id int64) (*Product, error)
	Lines(ctx context.Context, userID int64) ([]Line, error)
	// AddQuantity increments (or creates) a line. ok is false when the
	// result would exceed max; the line is left untouched in that case.
	AddQuantity(ctx context.Context, userID, productID int64, qty, max int) (newQty int, ok bool, err error)
	SetQuantity(ctx context.Context, userID, productID int64, qty int) error
	RemoveLine(ctx context.Context, userID, productID int64) error
	Clear(ctx context.Context, userID int64) error
}

// Service manages the pending lines a user later checks out.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) Get(ctx context.Context, who auth.Identity) (View, error) {
	lines, err := s.repo.Lines(ctx, who.UserID)
	if err != nil {
		return View{}, apperr.Internal("load cart", err)
	}
	if lines == nil {
		lines = []Line{}
	}
	return View{Lines: lines, Total: Total(lines)}, nil
}

// Add puts qty units of a product into the caller's cart.
func (s *Service) Add(ctx context.Context, who auth.Identity, productID int64, qty int) (View, error) {
	if err := checkQuantity(qty, 1); err != nil {
		return View{}, err
	}
	if err := s.requireAvailable(ctx, productID); err != nil {
		return View{}, err
	}
	newQty, ok, err := s.repo.AddQuantity(ctx, who.UserID, productID, qty, MaxQuantity)
	if err != nil {
		return View{}, apperr.Internal("add cart line", err)
	}
	if !ok {
		return View{}, apperr.Validation("quantity_out_of_range",
			fmt.Sprintf("a cart line holds at most %d units", MaxQuantity))
	}
	s.log.Debug().Int64("user_id", who.UserID).Int64("product_id", productID).Int("quantity", newQty).Msg("cart line added")
	return s.Get(ctx, who)
}

// SetQuantity replaces the quantity of a line; zero removes it.
func (s *Service) SetQuantity(ctx context.Context, who auth.Identity, productID int64, qty int) (View, error) {
	if err := checkQuantity(qty, 0); err != nil {
		return View{}, err
	}
	if qty == 0 {
		if err := s.repo.RemoveLine(ctx, who.UserID, productID); err != nil {
			return View{}, apperr.Internal("remove cart line", err)
		}
		return s.Get(ctx, who)
	}
	if err := s.requireAvailable(ctx, productID); err != nil {
		return View{}, err
	}
	if err := s.repo.SetQuantity(ctx, who.UserID, productID, qty); err != nil {
		return View{}, apperr.Internal("set cart line", err)
	}
	return s.Get(ctx, who)
}

func (s *Service) Clear(ctx context.Context, who auth.Identity) error {
	if err := s.repo.Clear(ctx, who.UserID); err != nil {
		return apperr.Internal("clear cart", err)
	}
	return nil
}

func (s *Service) requireAvailable(ctx context.Context, productID int64) error {
	p, err := s.repo.Product(ctx, productID)
	if err != nil {
		return apperr.Internal("load product", err)
	}
	if p == nil {
		return apperr.NotFound("product not found")
	}
	if !p.Available {
		return apperr.ErrProductUnavailable
	}
	return nil
}

func checkQuantity(qty, min int) error {
	if qty < min || qty > MaxQuantity {
		return apperr.Validation("quantity_out_of_range",
			fmt.Sprintf("quantity must be between %d and %d", min, MaxQuantity))
	}
	return nil
}
