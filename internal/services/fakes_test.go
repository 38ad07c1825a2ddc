package services_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
)

// memoryBidRepo is an in-memory BidRepository. PlaceBid performs the version
// compare-and-set under a single mutex, matching the atomicity the MySQL
// implementation gets from its transaction.
type memoryBidRepo struct {
	mu      sync.Mutex
	bids    map[string]*domain.Bid
	history map[string][]*domain.BidHistory
	nextSeq int64

	failClaim  map[string]error
	failCreate error
}

func newMemoryBidRepo() *memoryBidRepo {
	return &memoryBidRepo{
		bids:      make(map[string]*domain.Bid),
		history:   make(map[string][]*domain.BidHistory),
		failClaim: make(map[string]error),
	}
}

func (r *memoryBidRepo) Create(_ context.Context, bid *domain.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failCreate != nil {
		return r.failCreate
	}
	r.nextSeq++
	bid.Seq = r.nextSeq
	clone := *bid
	r.bids[bid.ID] = &clone
	return nil
}

func (r *memoryBidRepo) Get(_ context.Context, bidID string) (*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, ok := r.bids[bidID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *bid
	return &clone, nil
}

func (r *memoryBidRepo) PlaceBid(_ context.Context, bidID string, expectedVersion int64, amount decimal.Decimal, bidderID string, hist *domain.BidHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, ok := r.bids[bidID]
	if !ok {
		return domain.ErrNotFound
	}
	if bid.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	bid.CurrentBid = &amount
	bid.CurrentBidderID = &bidderID
	bid.Version++
	bid.UpdatedAt = hist.CreatedAt

	h := *hist
	r.history[bidID] = append(r.history[bidID], &h)
	return nil
}

func (r *memoryBidRepo) UpdateDecision(_ context.Context, bid *domain.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bids[bid.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Status = bid.Status
	stored.AcceptedAt = bid.AcceptedAt
	stored.RejectedAt = bid.RejectedAt
	stored.RejectionReason = bid.RejectionReason
	stored.UpdatedAt = bid.UpdatedAt
	return nil
}

func (r *memoryBidRepo) ListEndedUnprocessed(_ context.Context, now time.Time, withBidder bool, limit int) ([]*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Bid
	for _, bid := range r.bids {
		if !bid.IsBiddingEnabled || bid.BiddingProcessed {
			continue
		}
		if bid.EndDate == nil || bid.EndDate.After(now) {
			continue
		}
		if withBidder != bid.HasBidder() {
			continue
		}
		clone := *bid
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryBidRepo) ClaimForProcessing(_ context.Context, bidID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.failClaim[bidID]; ok {
		return err
	}

	bid, ok := r.bids[bidID]
	if !ok {
		return domain.ErrNotFound
	}
	if bid.BiddingProcessed {
		return domain.ErrAlreadyProcessed
	}
	bid.BiddingProcessed = true
	bid.UpdatedAt = now
	return nil
}

func (r *memoryBidRepo) History(_ context.Context, bidID string) ([]*domain.BidHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.BidHistory, len(r.history[bidID]))
	copy(out, r.history[bidID])
	return out, nil
}

// memorySubRepo is an in-memory SubscriptionRepository.
type memorySubRepo struct {
	mu       sync.Mutex
	subs     map[string]*domain.BidSubscription
	renewals map[string][]*domain.BidRenewalHistory
	nextSeq  int64
}

func newMemorySubRepo() *memorySubRepo {
	return &memorySubRepo{
		subs:     make(map[string]*domain.BidSubscription),
		renewals: make(map[string][]*domain.BidRenewalHistory),
	}
}

func (r *memorySubRepo) Create(_ context.Context, sub *domain.BidSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	sub.Seq = r.nextSeq
	clone := *sub
	r.subs[sub.ID] = &clone
	return nil
}

func (r *memorySubRepo) Get(_ context.Context, subID string) (*domain.BidSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[subID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *sub
	return &clone, nil
}

func (r *memorySubRepo) Update(_ context.Context, sub *domain.BidSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *sub
	r.subs[sub.ID] = &clone
	return nil
}

func (r *memorySubRepo) ListDue(_ context.Context, today time.Time, afterSeq int64, limit int) ([]*domain.BidSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.BidSubscription
	for _, sub := range r.bySeq() {
		if sub.Seq <= afterSeq {
			continue
		}
		if !sub.IsActive || sub.NextRenewalDate.After(today) {
			continue
		}
		if sub.MaxRenewals != nil && sub.RenewalsCount >= *sub.MaxRenewals {
			continue
		}
		if sub.EndDate != nil && sub.EndDate.Before(today) {
			continue
		}
		clone := *sub
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memorySubRepo) ListActive(_ context.Context, afterSeq int64, limit int) ([]*domain.BidSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.BidSubscription
	for _, sub := range r.bySeq() {
		if sub.Seq <= afterSeq || !sub.IsActive {
			continue
		}
		clone := *sub
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// bySeq returns the stored subscriptions in seq order, matching the SQL
// implementation's ordering. Callers hold r.mu.
func (r *memorySubRepo) bySeq() []*domain.BidSubscription {
	out := make([]*domain.BidSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *memorySubRepo) RecordRenewal(_ context.Context, rec *domain.BidRenewalHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *rec
	r.renewals[rec.SubscriptionID] = append(r.renewals[rec.SubscriptionID], &clone)
	return nil
}

func (r *memorySubRepo) RenewalHistory(_ context.Context, subID string) ([]*domain.BidRenewalHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.BidRenewalHistory, len(r.renewals[subID]))
	copy(out, r.renewals[subID])
	return out, nil
}

// fakeNotifier records dispatched notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
	fail  bool
	errTo error
}

type sentNotification struct {
	RecipientID string
	Kind        domain.NotificationKind
	Payload     map[string]interface{}
}

func (n *fakeNotifier) Notify(_ context.Context, recipientID string, kind domain.NotificationKind, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fail {
		return n.errTo
	}
	n.sent = append(n.sent, sentNotification{RecipientID: recipientID, Kind: kind, Payload: payload})
	return nil
}

func (n *fakeNotifier) sentTo(recipientID string, kind domain.NotificationKind) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []sentNotification
	for _, s := range n.sent {
		if s.RecipientID == recipientID && s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (n *fakeNotifier) count(kind domain.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

// fakeItems is an in-memory ItemCatalog.
type fakeItems struct {
	mu    sync.Mutex
	items map[string]*domain.Item
}

func newFakeItems() *fakeItems {
	return &fakeItems{items: make(map[string]*domain.Item)}
}

func (f *fakeItems) add(id string, available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = &domain.Item{ID: id, Name: id, IsAvailable: available}
}

func (f *fakeItems) setAvailable(id string, available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[id]; ok {
		item.IsAvailable = available
	}
}

func (f *fakeItems) Get(_ context.Context, itemID string) (*domain.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *item
	return &clone, nil
}
