package fraud

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"redemption-fraud-engine/internal/domain/fraud"
)

// Sub-fetch names recorded in AnalysisContext.Degraded
const (
	FetchProfile  = "profile"
	FetchCard     = "card"
	FetchHistory  = "history"
	FetchDevices  = "devices"
	FetchLocation = "location"
)

// LocationResolver maps an IP address to a location
type LocationResolver interface {
	Resolve(ctx context.Context, ip string) (*fraud.Location, error)
}

// ContextBuilderConfig configures context building
type ContextBuilderConfig struct {
	HistoryWindowDays int
	DependencyTimeout time.Duration
}

// ContextBuilder assembles the immutable analysis context.
// Sub-fetches run in parallel, each with its own timeout.
type ContextBuilder struct {
	profiles fraud.ProfileStore
	cards    fraud.CardStore
	history  fraud.TransactionStore
	devices  fraud.DeviceStore
	geo      LocationResolver

	cfg    ContextBuilderConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewContextBuilder creates a context builder. geo may be nil.
func NewContextBuilder(
	profiles fraud.ProfileStore,
	cards fraud.CardStore,
	history fraud.TransactionStore,
	devices fraud.DeviceStore,
	geo LocationResolver,
	cfg ContextBuilderConfig,
	logger *zap.Logger,
) *ContextBuilder {
	if cfg.HistoryWindowDays <= 0 {
		cfg.HistoryWindowDays = 30
	}
	return &ContextBuilder{
		profiles: profiles,
		cards:    cards,
		history:  history,
		devices:  devices,
		geo:      geo,
		cfg:      cfg,
		logger:   logger.Named("context_builder"),
		tracer:   tracer(),
	}
}

// Build fetches everything the checkers need.
// It fails only when the user or the transaction cannot be resolved; every
// other failure leaves an empty value and is listed in Degraded.
func (b *ContextBuilder) Build(ctx context.Context, tx fraud.Transaction) (*fraud.AnalysisContext, error) {
	ctx, span := b.tracer.Start(ctx, "fraud.BuildContext")
	defer span.End()

	if tx.ID == uuid.Nil || tx.UserID == uuid.Nil || tx.Timestamp.IsZero() {
		return nil, &fraud.FatalContextError{TransactionID: tx.ID.String(), Err: fraud.ErrInvalidTransaction}
	}

	var (
		mu       sync.Mutex
		degraded []string
		profile  *fraud.UserProfile
		card     *fraud.CardInfo
		recent   []fraud.Transaction
		devices  []fraud.DeviceRecord
		location *fraud.Location
	)

	degrade := func(fetch string, err error) {
		mu.Lock()
		degraded = append(degraded, fetch)
		mu.Unlock()
		b.logger.Warn("context fetch failed, continuing with empty data",
			zap.String("fetch", fetch),
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
	}

	// Use errgroup for concurrent data fetching
	g, gctx := errgroup.WithContext(ctx)

	// Fetch 1: user profile; an unknown user is the one fatal case
	g.Go(func() error {
		fctx, cancel := b.withTimeout(gctx)
		defer cancel()

		p, err := b.profiles.GetUserProfile(fctx, tx.UserID)
		if errors.Is(err, fraud.ErrUserNotFound) {
			return &fraud.FatalContextError{TransactionID: tx.ID.String(), Err: err}
		}
		if err != nil {
			degrade(FetchProfile, err)
			return nil
		}
		profile = p
		return nil
	})

	// Fetch 2: card metadata
	if tx.CardID != uuid.Nil && b.cards != nil {
		g.Go(func() error {
			fctx, cancel := b.withTimeout(gctx)
			defer cancel()

			c, err := b.cards.GetCard(fctx, tx.CardID)
			if err != nil {
				degrade(FetchCard, err)
				return nil
			}
			card = c
			return nil
		})
	}

	// Fetch 3: recent transactions
	g.Go(func() error {
		fctx, cancel := b.withTimeout(gctx)
		defer cancel()

		txs, err := b.history.GetRecentTransactions(fctx, tx.UserID, b.cfg.HistoryWindowDays)
		if err != nil {
			degrade(FetchHistory, err)
			return nil
		}
		recent = excludeCurrent(txs, tx.ID)
		return nil
	})

	// Fetch 4: device history
	if tx.DeviceFingerprint != "" && b.devices != nil {
		g.Go(func() error {
			fctx, cancel := b.withTimeout(gctx)
			defer cancel()

			records, err := b.devices.GetDeviceHistory(fctx, tx.DeviceFingerprint)
			if err != nil {
				degrade(FetchDevices, err)
				return nil
			}
			devices = records
			return nil
		})
	}

	// Fetch 5: IP geolocation when the transaction carries no location
	if tx.Location == nil && tx.IPAddress != "" && b.geo != nil {
		g.Go(func() error {
			fctx, cancel := b.withTimeout(gctx)
			defer cancel()

			loc, err := b.geo.Resolve(fctx, tx.IPAddress)
			if err != nil {
				degrade(FetchLocation, err)
				return nil
			}
			location = loc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if recent == nil {
		recent = []fraud.Transaction{}
	}
	if devices == nil {
		devices = []fraud.DeviceRecord{}
	}
	sort.Strings(degraded)
	span.SetAttributes(
		attribute.Int("history.count", len(recent)),
		attribute.StringSlice("degraded", degraded),
	)

	return &fraud.AnalysisContext{
		Transaction:        tx,
		Location:           location,
		Profile:            profile,
		Card:               card,
		RecentTransactions: recent,
		DeviceHistory:      devices,
		Degraded:           degraded,
		BuiltAt:            time.Now().UTC(),
	}, nil
}

func (b *ContextBuilder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.DependencyTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.cfg.DependencyTimeout)
}

// excludeCurrent drops the analysed transaction and orders the rest newest first
func excludeCurrent(txs []fraud.Transaction, current uuid.UUID) []fraud.Transaction {
	out := make([]fraud.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.ID == current {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
