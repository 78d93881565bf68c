package core

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/contract"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/observability"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	dbm "github.com/tendermint/tm-db"
)

var (
	// ErrDuplicateCall is returned for a call id that already committed.
	// The call is not executed again.
	ErrDuplicateCall = errors.New("core: duplicate call")

	// ErrUnavailable marks failures of the core's own dependencies (dedup
	// lookups, state commit). The call was not judged and may be retried.
	ErrUnavailable = errors.New("core: unavailable")
)

// Config tunes the core. Zero values take defaults.
type Config struct {
	IdempotencyCapacity int
	// Full conservation scan every N committed sequences
	ConservationInterval int64
}

func (c Config) withDefaults() Config {
	if c.IdempotencyCapacity <= 0 {
		c.IdempotencyCapacity = 1_000_000
	}
	if c.ConservationInterval <= 0 {
		c.ConservationInterval = 1000
	}
	return c
}

// DeterministicCore is the single-threaded call processor. All mutations of
// contract state go through ProcessCall, one call at a time.
type DeterministicCore struct {
	db                   dbm.DB
	sequence             int64 // last committed
	hasher               *StateHasher
	validator            *ledger.InvariantValidator
	authorizer           auth.Authorizer
	idempotency          *IdempotencyChecker
	sequenceValidator    *SequenceValidator
	conservationInterval int64
	metrics              *observability.Metrics
	logger               zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything one committed call produced.
type CoreOutput struct {
	Envelope   *event.CallEnvelope
	Batch      *ledger.Batch
	Facts      []event.FactRecord
	StateDelta []byte
}

// Result is returned to the submitter of a call.
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Facts     []event.FactRecord
}

// NewDeterministicCore resumes from the position stored in db. dbChecker
// is an extra durable dedup tier (Postgres); it may be nil.
func NewDeterministicCore(
	db dbm.DB,
	authorizer auth.Authorizer,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg Config,
) (*DeterministicCore, error) {
	cfg = cfg.withDefaults()

	idempotency, err := NewIdempotencyChecker(cfg.IdempotencyCapacity, metrics, &stateCallIndex{db: db}, dbChecker)
	if err != nil {
		return nil, err
	}

	c := &DeterministicCore{
		db:                   db,
		hasher:               NewStateHasher(),
		validator:            ledger.NewInvariantValidator(),
		authorizer:           authorizer,
		idempotency:          idempotency,
		sequenceValidator:    NewSequenceValidator(metrics),
		conservationInterval: cfg.ConservationInterval,
		metrics:              metrics,
		logger:               logger,
		persistChan:          persistChan,
		projectionChan:       projectionChan,
	}

	if err := c.restore(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *DeterministicCore) restore() error {
	meta, ok, err := host.NewTx(c.db).LoadCoreMeta()
	if err != nil {
		return fmt.Errorf("load core position: %w", err)
	}
	if ok {
		if len(meta.StateHash) != 32 {
			return fmt.Errorf("%w: stored state hash has %d bytes", host.ErrMalformedState, len(meta.StateHash))
		}
		var hash [32]byte
		copy(hash[:], meta.StateHash)
		c.sequence = meta.Sequence
		c.hasher.SetPrevHash(hash)
	}

	positions, err := host.LoadSourcePositions(c.db)
	if err != nil {
		return err
	}
	for source, next := range positions {
		c.sequenceValidator.RestorePartition(source, next)
	}

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	c.logger.Info().
		Int64("sequence", c.sequence).
		Int("sources", len(positions)).
		Msg("core position restored")
	return nil
}

// ProcessCall is the main processing pipeline. A returned error means
// nothing was committed.
func (c *DeterministicCore) ProcessCall(call *event.Call) (*Result, error) {
	start := time.Now()
	method := string(call.Method)

	// Step 1: envelope validation
	if err := call.Validate(); err != nil {
		c.reject(method, "malformed")
		return nil, err
	}

	// Step 2: idempotency (two-tier)
	isDuplicate, err := c.idempotency.IsDuplicate(method, call.CallID)
	if err != nil {
		c.reject(method, "dedup_unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Step 3: source sequence ordering
	if call.Source != "" {
		if err := c.sequenceValidator.Check(call.Source, call.SourceSequence, isDuplicate); err != nil {
			c.reject(method, "sequence")
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.reject(method, "duplicate")
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, call.CallID)
	}

	// Step 4: dispatch inside one transaction
	seq := c.sequence + 1
	tx := host.NewTx(c.db)
	env, err := contract.NewEnv(tx, call, c.authorizer, seq, call.Timestamp.UnixMicro())
	if err != nil {
		c.reject(method, "malformed")
		c.consumeSource(call)
		return nil, err
	}

	if err := contract.Dispatch(env); err != nil {
		tx.Discard()
		c.reject(method, "contract")
		c.consumeSource(call)
		return nil, err
	}

	// Step 5: post-checks. A violation after a successful dispatch is a bug
	// in the contracts; nothing gets committed.
	batch := env.Journals()
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed journal batch: %v", err))
	}
	if err := c.postCheckInvariants(tx, seq); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: state hash over the contract writes
	hashStart := time.Now()
	stateDigest := computeStateDigest(tx.WriteSet())
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 7: commit contract state with the call marker and core position
	tx.MarkCall(call.CallID, seq)
	if call.Source != "" {
		tx.SetSourcePosition(call.Source, call.SourceSequence+1)
	}
	if err := tx.SaveCoreMeta(host.CoreMeta{Sequence: seq, StateHash: stateHash[:]}); err != nil {
		tx.Discard()
		return nil, c.commitFailed(method, call, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, c.commitFailed(method, call, err)
	}

	c.sequence = seq
	c.hasher.Advance(stateHash)
	if call.Source != "" {
		c.sequenceValidator.Advance(call.Source, call.SourceSequence)
	}
	c.idempotency.MarkProcessed(call.CallID)

	// Step 8: emit outputs
	payload, err := json.Marshal(call)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode committed call %s: %v", call.CallID, err))
	}
	output := CoreOutput{
		Envelope: &event.CallEnvelope{
			Sequence:       seq,
			IdempotencyKey: call.CallID,
			Contract:       call.Contract,
			Method:         call.Method,
			Timestamp:      call.Timestamp,
			Source:         call.Source,
			SourceSequence: call.SourceSequence,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:      batch,
		Facts:      env.Facts(),
		StateDelta: stateDigest,
	}
	c.emit(output)

	c.recordApplied(method, output, start)

	c.logger.Debug().
		Int64("sequence", seq).
		Str("call_id", call.CallID).
		Str("method", method).
		Str("contract", string(call.Contract)).
		Int("facts", len(output.Facts)).
		Msg("call applied")

	return &Result{Sequence: seq, StateHash: stateHash, Facts: output.Facts}, nil
}

// commitFailed reports a call that was judged but could not be stored. The
// core position is unchanged and the call may be retried.
func (c *DeterministicCore) commitFailed(method string, call *event.Call, err error) error {
	c.reject(method, "commit")
	return fmt.Errorf("%w: commit call %s: %v", ErrUnavailable, call.CallID, err)
}

// consumeSource advances a source past a call whose dispatch failed. The
// message was delivered and answered; redelivering the same sequence must
// be seen as stale.
func (c *DeterministicCore) consumeSource(call *event.Call) {
	if call.Source == "" {
		return
	}
	tx := host.NewTx(c.db)
	tx.SetSourcePosition(call.Source, call.SourceSequence+1)
	if err := tx.Commit(); err != nil {
		c.logger.Error().Err(err).Str("source", call.Source).Msg("failed to persist source position")
		return
	}
	c.sequenceValidator.Advance(call.Source, call.SourceSequence)
}

// SkipSource consumes sourceSequence for a message that never became a call
// (undecodable payload). Later messages from the source stay in order.
func (c *DeterministicCore) SkipSource(source string, sourceSequence int64) error {
	if err := c.sequenceValidator.Check(source, sourceSequence, false); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}
	c.consumeSource(&event.Call{Source: source, SourceSequence: sourceSequence})
	return nil
}

// postCheckInvariants validates what the call wrote before it commits
func (c *DeterministicCore) postCheckInvariants(tx *host.Tx, seq int64) error {
	// touched balances: 0 <= balance <= supply, supply >= 0
	byContract := make(map[ledger.ContractID][]ledger.Address)
	order := make([]ledger.ContractID, 0)
	for _, ref := range tx.TouchedBalances() {
		if _, seen := byContract[ref.Contract]; !seen {
			order = append(order, ref.Contract)
		}
		byContract[ref.Contract] = append(byContract[ref.Contract], ref.Holder)
	}
	for _, id := range order {
		if err := c.validator.ValidateTouched(tx.Token(id), byContract[id]); err != nil {
			return fmt.Errorf("token %s: %w", id, err)
		}
	}

	// commitments: 0 <= assigned <= total
	for _, id := range tx.TouchedCommitments() {
		cm, err := tx.Commitment(id).LoadCommitment()
		if err != nil {
			return err
		}
		if cm == nil {
			return fmt.Errorf("commitment %s written but missing", id)
		}
		if err := cm.Validate(); err != nil {
			return fmt.Errorf("commitment %s: %w", id, err)
		}
	}

	// periodic full scan: supply == sum of balances for every token
	if seq%c.conservationInterval == 0 {
		if err := c.validateConservation(tx); err != nil {
			return err
		}
	}

	return nil
}

func (c *DeterministicCore) validateConservation(tx *host.Tx) error {
	if c.metrics != nil {
		c.metrics.CoreConservation.Inc()
	}
	return tx.ScanInstances(func(id ledger.ContractID, inst *host.Instance) error {
		if inst.Kind != host.KindToken {
			return nil
		}
		tok := tx.Token(id)
		if err := c.validator.ValidateConservation(tok, tok); err != nil {
			return fmt.Errorf("token %s: %w", id, err)
		}
		return nil
	})
}

// ValidateConservation runs the full scan against committed state.
func (c *DeterministicCore) ValidateConservation() error {
	return c.validateConservation(host.NewTx(c.db))
}

// emit sends output downstream. Persistence is a blocking send
// (backpressure). Projections are non-blocking and drop when full; they
// rebuild from the call log.
func (c *DeterministicCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}
}

func (c *DeterministicCore) reject(method, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCallsRejected.WithLabelValues(method, reason).Inc()
	}
}

func (c *DeterministicCore) recordApplied(method string, output CoreOutput, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreCallsApplied.WithLabelValues(method).Inc()
	c.metrics.CoreCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))

	for _, j := range output.Batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		switch j.JournalType {
		case ledger.JournalTypeMint:
			c.metrics.CreditsMinted.WithLabelValues(string(j.Contract)).Add(float64(j.Amount))
		case ledger.JournalTypeBurn:
			c.metrics.CreditsRetired.WithLabelValues(string(j.Contract)).Add(float64(j.Amount))
		}
	}
	for _, f := range output.Facts {
		if f.Type == event.FactCommitmentFulfilled {
			c.metrics.CommitmentsFulfilled.Inc()
		}
	}
}

// WarmLRU loads recent call ids into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.WarmFromKeys(keys)
}

// GetSequence returns the last committed global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// stateCallIndex is the dedup tier backed by call markers in the state DB.
// Markers commit atomically with the call, so it is always up to date.
type stateCallIndex struct {
	db dbm.DB
}

func (s *stateCallIndex) IsDuplicate(callID string) (bool, error) {
	_, ok, err := host.NewTx(s.db).CallSequence(callID)
	return ok, err
}
