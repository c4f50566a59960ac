// Package store persists the mapping between source events and their broker
// legs. The snapshot is a versioned JSON document; older versions migrate
// forward on load, and a corrupt or missing file starts the store empty
// rather than crashing the process.
package store

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/models"
)

// CurrentVersion is the snapshot schema version written by Save.
//
// v1 stored a single leg per event id, v2 introduced the dual-leg shape,
// v3 added the original SL/TP/comment snapshot used for edit detection.
const CurrentVersion = 3

// DefaultMaxRecords bounds the store size; closed records past the bound are
// evicted oldest-first on save.
const DefaultMaxRecords = 20

// PositionStore is the in-memory position index plus its JSON snapshot.
// It is not goroutine-safe; the coordinator serializes access.
type PositionStore struct {
	path       string
	maxRecords int
	log        *zap.Logger

	positions    map[int64]*models.DualPosition
	ticketIndex  map[int64]int64
	lastSignalID int64 // 0 = none
}

// New creates an empty store backed by the given snapshot path.
func New(path string, maxRecords int, log *zap.Logger) *PositionStore {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &PositionStore{
		path:        path,
		maxRecords:  maxRecords,
		log:         log,
		positions:   make(map[int64]*models.DualPosition),
		ticketIndex: make(map[int64]int64),
	}
}

// Add inserts (or overwrites) the leg under its role slot, updates the
// reverse ticket index and advances the last-signal pointer.
func (s *PositionStore) Add(leg *models.TrackedPosition, role models.Role) {
	dual, ok := s.positions[leg.EventID]
	if !ok {
		dual = &models.DualPosition{EventID: leg.EventID}
		s.positions[leg.EventID] = dual
	}
	dual.SetRole(leg, role)
	s.ticketIndex[leg.Ticket] = leg.EventID
	s.lastSignalID = leg.EventID
}

// Get returns the dual position for a source event id.
func (s *PositionStore) Get(id int64) (*models.DualPosition, bool) {
	dual, ok := s.positions[id]
	return dual, ok
}

// GetByRole returns the leg in the given role slot for a source event id.
func (s *PositionStore) GetByRole(id int64, role models.Role) *models.TrackedPosition {
	dual, ok := s.positions[id]
	if !ok {
		return nil
	}
	return dual.ByRole(role)
}

// GetByTicket resolves a broker ticket to its leg and role.
func (s *PositionStore) GetByTicket(ticket int64) (*models.TrackedPosition, models.Role, bool) {
	id, ok := s.ticketIndex[ticket]
	if !ok {
		return nil, "", false
	}
	dual, ok := s.positions[id]
	if !ok {
		return nil, "", false
	}
	for _, leg := range dual.Legs() {
		if leg.Ticket == ticket {
			return leg, leg.Role, true
		}
	}
	return nil, "", false
}

// GetPendingBySymbol returns the most recently opened dual position with any
// leg still pending completion for the symbol, or nil.
func (s *PositionStore) GetPendingBySymbol(symbol string) *models.DualPosition {
	var best *models.DualPosition
	var bestAt time.Time
	for _, dual := range s.positions {
		for _, leg := range dual.Legs() {
			if leg.Symbol != symbol || leg.Status != models.StatusPendingCompletion {
				continue
			}
			if best == nil || leg.OpenedAt.After(bestAt) {
				best = dual
				bestAt = leg.OpenedAt
			}
			break
		}
	}
	return best
}

// Remove drops a dual position and its reverse-index entries.
func (s *PositionStore) Remove(id int64) {
	dual, ok := s.positions[id]
	if !ok {
		return
	}
	for _, leg := range dual.Legs() {
		delete(s.ticketIndex, leg.Ticket)
	}
	delete(s.positions, id)
}

// Reassign moves a dual position to a new event id, rewriting every leg's id
// and the reverse index. Used when a later message completes a pending
// signal: subsequent replies target the completing message.
func (s *PositionStore) Reassign(oldID, newID int64) {
	dual, ok := s.positions[oldID]
	if !ok {
		return
	}
	delete(s.positions, oldID)
	dual.EventID = newID
	for _, leg := range dual.Legs() {
		leg.EventID = newID
		s.ticketIndex[leg.Ticket] = newID
	}
	s.positions[newID] = dual
	s.lastSignalID = newID
}

// LastSignalID returns the fallback target for ambiguous replies (0 = none).
func (s *PositionStore) LastSignalID() int64 { return s.lastSignalID }

// Len returns the number of tracked dual positions.
func (s *PositionStore) Len() int { return len(s.positions) }

// Contains reports whether the event id is tracked.
func (s *PositionStore) Contains(id int64) bool {
	_, ok := s.positions[id]
	return ok
}

// snapshot is the on-disk document shape (v2/v3 layout).
type snapshot struct {
	Version      int                        `json:"version"`
	LastUpdated  string                     `json:"last_updated"`
	LastSignalID int64                      `json:"last_signal_id"`
	Positions    map[string]json.RawMessage `json:"positions"`
	TicketIndex  map[string]int64           `json:"ticket_index,omitempty"`
}

// Save evicts over-limit records and writes the snapshot atomically
// (temp file + rename, synced before the rename).
func (s *PositionStore) Save() error {
	s.evict()

	doc := snapshot{
		Version:      CurrentVersion,
		LastUpdated:  time.Now().Format(time.RFC3339),
		LastSignalID: s.lastSignalID,
		Positions:    make(map[string]json.RawMessage, len(s.positions)),
		TicketIndex:  make(map[string]int64, len(s.ticketIndex)),
	}
	for id, dual := range s.positions {
		raw, err := json.Marshal(dual)
		if err != nil {
			return err
		}
		doc.Positions[strconv.FormatInt(id, 10)] = raw
	}
	for ticket, id := range s.ticketIndex {
		doc.TicketIndex[strconv.FormatInt(ticket, 10)] = id
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, s.path)
}

// Load reads the snapshot, migrating older versions forward. A missing file
// is a clean start; a malformed one logs a warning and starts empty.
func (s *PositionStore) Load() {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.log.Warn("state file unreadable, starting empty", zap.Error(err))
		return
	}

	var doc snapshot
	if err := json.Unmarshal(b, &doc); err != nil {
		s.log.Warn("state file corrupted, starting empty", zap.Error(err))
		s.reset()
		return
	}

	s.reset()
	s.lastSignalID = doc.LastSignalID

	version := doc.Version
	if version == 0 {
		version = 1
	}

	var loadErr error
	if version == 1 {
		loadErr = s.loadV1(doc.Positions)
	} else {
		loadErr = s.loadV2(doc.Positions)
	}
	if loadErr != nil {
		s.log.Warn("state file entries invalid, starting empty", zap.Error(loadErr))
		s.reset()
		s.lastSignalID = 0
		return
	}

	if version < CurrentVersion {
		s.log.Info("migrated state snapshot",
			zap.Int("from_version", version),
			zap.Int("to_version", CurrentVersion),
			zap.Int("positions", len(s.positions)))
	}
}

func (s *PositionStore) reset() {
	s.positions = make(map[int64]*models.DualPosition)
	s.ticketIndex = make(map[int64]int64)
	s.lastSignalID = 0
}

// loadV1 migrates the single-leg-per-event layout: each entry is a bare leg
// that becomes the scalp slot of a dual position with role "single".
func (s *PositionStore) loadV1(raw map[string]json.RawMessage) error {
	for idStr, legRaw := range raw {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return err
		}
		var leg models.TrackedPosition
		if err := json.Unmarshal(legRaw, &leg); err != nil {
			return err
		}
		normalizeLeg(&leg)
		leg.Role = models.RoleSingle
		leg.EventID = id
		dual := &models.DualPosition{EventID: id, Scalp: &leg}
		s.positions[id] = dual
		s.ticketIndex[leg.Ticket] = id
	}
	return nil
}

// loadV2 handles both v2 and v3; v3 fields are optional in v2 documents and
// are backfilled from current values so edit detection has a baseline.
func (s *PositionStore) loadV2(raw map[string]json.RawMessage) error {
	for idStr, dualRaw := range raw {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return err
		}
		var dual models.DualPosition
		if err := json.Unmarshal(dualRaw, &dual); err != nil {
			return err
		}
		dual.EventID = id
		for _, leg := range dual.Legs() {
			normalizeLeg(leg)
			leg.EventID = id
			s.ticketIndex[leg.Ticket] = id
		}
		s.positions[id] = &dual
	}
	return nil
}

// normalizeLeg backfills fields older snapshot versions did not carry.
func normalizeLeg(leg *models.TrackedPosition) {
	if leg.Role == "" {
		leg.Role = models.RoleSingle
	}
	if leg.OriginalStopLoss == nil && leg.StopLoss != nil {
		sl := *leg.StopLoss
		leg.OriginalStopLoss = &sl
	}
	if leg.OriginalTakeProfits == nil && len(leg.TakeProfits) > 0 {
		leg.OriginalTakeProfits = append([]decimal.Decimal(nil), leg.TakeProfits...)
	}
	if leg.TPsHit == nil {
		leg.TPsHit = []int{}
	}
}

// evict keeps only the newest maxRecords dual positions, ordered by earliest
// leg open time, and rebuilds the reverse index.
func (s *PositionStore) evict() {
	if len(s.positions) <= s.maxRecords {
		return
	}

	type entry struct {
		id   int64
		dual *models.DualPosition
	}
	entries := make([]entry, 0, len(s.positions))
	for id, dual := range s.positions {
		entries = append(entries, entry{id, dual})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].dual.EarliestOpen().After(entries[j].dual.EarliestOpen())
	})

	s.positions = make(map[int64]*models.DualPosition, s.maxRecords)
	s.ticketIndex = make(map[int64]int64)
	for _, e := range entries[:s.maxRecords] {
		s.positions[e.id] = e.dual
		for _, leg := range e.dual.Legs() {
			s.ticketIndex[leg.Ticket] = e.id
		}
	}
}
