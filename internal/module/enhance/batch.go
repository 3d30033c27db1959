package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/homeglow/server/internal/module/credits"
	"github.com/homeglow/server/internal/module/enhance/provider"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EnhanceBatch runs every image as an independent request. A failing image
// never cancels its siblings, and every outcome is reported in input order.
func (s *Service) EnhanceBatch(ctx context.Context, principal Principal, req *BatchRequest) (*BatchResponse, error) {
	if len(req.Images) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.Images) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(req.Images), s.cfg.MaxBatchSize)
	}
	if !req.Mode.Valid() {
		return nil, &InvalidRequestError{Err: fmt.Errorf("unknown mode %q", req.Mode)}
	}
	if req.Mode == provider.ModeMagic && strings.TrimSpace(req.Prompt) == "" {
		return nil, &InvalidRequestError{Err: errors.New("prompt is required for magic mode")}
	}
	if principal.IsGuest() && !s.AllowsGuests(req.Mode) {
		return nil, ErrAuthenticationRequired
	}

	if !principal.IsGuest() {
		balance, err := s.ledger.GetBalance(ctx, principal.UserID)
		if err != nil {
			return nil, err
		}
		if total := req.Mode.Cost() * len(req.Images); balance < total {
			return nil, fmt.Errorf("%w: balance %d, batch cost %d", credits.ErrInsufficientCredits, balance, total)
		}
	}

	items := make([]*BatchItem, len(req.Images))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, img := range req.Images {
		g.Go(func() error {
			item := &BatchItem{Index: i, Filename: img.Filename}
			resp, err := s.Enhance(ctx, principal, &Request{Image: img, Mode: req.Mode, Prompt: req.Prompt})
			if err != nil {
				item.Error = UserMessage(err)
			} else {
				item.Success = true
				item.SessionID = resp.SessionID
				item.EnhancedURL = resp.EnhancedURL
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResponse{Items: items}
	for _, item := range items {
		if item.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}

	if !principal.IsGuest() {
		if balance, err := s.ledger.GetBalance(ctx, principal.UserID); err == nil {
			out.CreditsRemaining = &balance
		} else {
			s.logger.Warn("balance not refreshed after batch",
				zap.String("user_id", principal.UserID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("batch completed",
		zap.Int("images", len(items)),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}
