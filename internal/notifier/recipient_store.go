package notifier

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// RecipientStore is a thread-safe set of active recipients. It is replaced
// wholesale on config reload and read by the Alerter for every candidate.
type RecipientStore struct {
	mu         sync.RWMutex
	recipients []Recipient
	logger     *zap.Logger
	// channelFactory builds a Channel from config. Injected for testing.
	channelFactory func(cfg ChannelConfig, logger *zap.Logger) (Channel, error)
}

// NewRecipientStore creates an empty store.
func NewRecipientStore(logger *zap.Logger) *RecipientStore {
	return &RecipientStore{
		logger:         logger.Named("recipients"),
		channelFactory: NewChannel,
	}
}

// Update validates cfgs and replaces the active set. Channels whose
// configuration did not change are kept. On error the previous set stays
// active.
func (rs *RecipientStore) Update(cfgs []RecipientConfig) error {
	sorted := make([]RecipientConfig, len(cfgs))
	copy(sorted, cfgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rs.mu.Lock()
	defer rs.mu.Unlock()

	existing := make(map[string]Recipient, len(rs.recipients))
	for _, r := range rs.recipients {
		existing[r.ID()] = r
	}

	next := make([]Recipient, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, cfg := range sorted {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate recipient id %q", cfg.ID)
		}
		seen[cfg.ID] = true

		if prev, ok := existing[cfg.ID]; ok && prev.Config.Channel == cfg.Channel {
			next = append(next, Recipient{Config: cfg, Channel: prev.Channel})
			continue
		}
		ch, err := rs.channelFactory(cfg.Channel, rs.logger)
		if err != nil {
			return fmt.Errorf("recipient %s: %w", cfg.ID, err)
		}
		next = append(next, Recipient{Config: cfg, Channel: ch})
		rs.logger.Info("Configured notification recipient",
			zap.String("recipient", cfg.ID),
			zap.String("channel", cfg.Channel.Type),
			zap.String("url", RedactURL(cfg.Channel.URL)))
	}

	rs.recipients = next
	return nil
}

// Recipients returns a snapshot of the active set, sorted by id.
func (rs *RecipientStore) Recipients() []Recipient {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Recipient, len(rs.recipients))
	copy(out, rs.recipients)
	return out
}

// Len returns the number of active recipients.
func (rs *RecipientStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.recipients)
}
