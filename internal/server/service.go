package server

import (
	"CarbonLedger/internal/contract"
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/query"
	"context"
	"encoding/hex"
	"fmt"
)

// CallSubmitter hands a call to the core and waits for its outcome.
type CallSubmitter interface {
	Submit(ctx context.Context, call *event.Call) (*core.Result, error)
}

// CreditServiceServer is the carbonledger.v1.CreditService contract.
type CreditServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	BalanceOf(context.Context, *BalanceOfRequest) (*BalanceOfResponse, error)
	TotalSupply(context.Context, *ContractRequest) (*TotalSupplyResponse, error)
	Admin(context.Context, *ContractRequest) (*AdminResponse, error)
	GetCommitment(context.Context, *ContractRequest) (*query.CommitmentResponse, error)
	ListHolders(context.Context, *ListHoldersRequest) (*ListHoldersResponse, error)
	ListAssignments(context.Context, *PageRequest) (*ListAssignmentsResponse, error)
	ListFacts(context.Context, *PageRequest) (*ListFactsResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	GetCall(context.Context, *GetCallRequest) (*query.CallRecord, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

type SubmitRequest struct {
	Call *event.Call `json:"call"`
}

type SubmitResponse struct {
	Sequence  int64              `json:"sequence"`
	StateHash string             `json:"state_hash"`
	Facts     []event.FactRecord `json:"facts"`
}

type ContractRequest struct {
	Contract string `json:"contract"`
}

type BalanceOfRequest struct {
	Contract string `json:"contract"`
	Holder   string `json:"holder"`
}

type BalanceOfResponse struct {
	Contract     string `json:"contract"`
	Holder       string `json:"holder"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type TotalSupplyResponse struct {
	Contract     string `json:"contract"`
	TotalSupply  int64  `json:"total_supply"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type AdminResponse struct {
	Contract string `json:"contract"`
	Admin    string `json:"admin"`
}

type ListHoldersRequest struct {
	Contract string `json:"contract"`
	PageSize int32  `json:"page_size"`
	After    string `json:"after"`
}

type ListHoldersResponse struct {
	Holders []query.HolderEntry `json:"holders"`
}

// PageRequest pages backwards through a contract's history. Before 0 means
// from the newest entry.
type PageRequest struct {
	Contract string `json:"contract"`
	PageSize int32  `json:"page_size"`
	Before   int64  `json:"before"`
}

type ListAssignmentsResponse struct {
	Assignments []query.AssignmentEntry `json:"assignments"`
}

type ListFactsResponse struct {
	Facts []query.FactEntry `json:"facts"`
}

type ListJournalsRequest struct {
	Holder   string `json:"holder"`
	PageSize int32  `json:"page_size"`
	Before   int64  `json:"before"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type GetCallRequest struct {
	CallID string `json:"call_id"`
}

type VerifyIntegrityRequest struct{}

// creditService serves live reads from the state DB and history from the
// Postgres projections. queries is nil when Postgres is not configured.
// Methods return domain errors; the interceptor and the gateway map them.
type creditService struct {
	submitter CallSubmitter
	reader    *contract.Reader
	queries   *query.QueryService
}

func (s *creditService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.Call == nil {
		return nil, errMissing("call")
	}
	// request/response calls have no upstream stream position
	req.Call.Source = ""
	req.Call.SourceSequence = 0

	res, err := s.submitter.Submit(ctx, req.Call)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{
		Sequence:  res.Sequence,
		StateHash: hex.EncodeToString(res.StateHash[:]),
		Facts:     res.Facts,
	}, nil
}

func (s *creditService) BalanceOf(ctx context.Context, req *BalanceOfRequest) (*BalanceOfResponse, error) {
	if req.Contract == "" || req.Holder == "" {
		return nil, errMissing("contract and holder")
	}
	seq, err := s.reader.Sequence()
	if err != nil {
		return nil, err
	}
	bal, err := s.reader.BalanceOf(ledger.ContractID(req.Contract), ledger.Address(req.Holder))
	if err != nil {
		return nil, err
	}
	return &BalanceOfResponse{
		Contract:     req.Contract,
		Holder:       req.Holder,
		Balance:      bal,
		AsOfSequence: seq,
	}, nil
}

func (s *creditService) TotalSupply(ctx context.Context, req *ContractRequest) (*TotalSupplyResponse, error) {
	if req.Contract == "" {
		return nil, errMissing("contract")
	}
	seq, err := s.reader.Sequence()
	if err != nil {
		return nil, err
	}
	supply, err := s.reader.TotalSupply(ledger.ContractID(req.Contract))
	if err != nil {
		return nil, err
	}
	return &TotalSupplyResponse{Contract: req.Contract, TotalSupply: supply, AsOfSequence: seq}, nil
}

func (s *creditService) Admin(ctx context.Context, req *ContractRequest) (*AdminResponse, error) {
	if req.Contract == "" {
		return nil, errMissing("contract")
	}
	admin, err := s.reader.Admin(ledger.ContractID(req.Contract))
	if err != nil {
		return nil, err
	}
	return &AdminResponse{Contract: req.Contract, Admin: string(admin)}, nil
}

func (s *creditService) GetCommitment(ctx context.Context, req *ContractRequest) (*query.CommitmentResponse, error) {
	if req.Contract == "" {
		return nil, errMissing("contract")
	}
	seq, err := s.reader.Sequence()
	if err != nil {
		return nil, err
	}
	v, err := s.reader.GetCommitment(ledger.ContractID(req.Contract))
	if err != nil {
		return nil, err
	}
	return &query.CommitmentResponse{
		Contract:      req.Contract,
		Buyer:         string(v.Buyer),
		UnitPrice:     v.UnitPrice,
		TotalQuantity: v.TotalQuantity,
		Assigned:      v.Assigned,
		Outstanding:   v.Outstanding,
		State:         v.State.String(),
		TotalValue:    v.TotalValue,
		AsOfSequence:  seq,
	}, nil
}

func (s *creditService) ListHolders(ctx context.Context, req *ListHoldersRequest) (*ListHoldersResponse, error) {
	if s.queries == nil {
		return nil, errQueriesDisabled
	}
	if req.Contract == "" {
		return nil, errMissing("contract")
	}
	holders, err := s.queries.ListHolders(ctx, req.Contract, pageSize(req.PageSize, 100, 1000), req.After)
	if err != nil {
		return nil, err
	}
	return &ListHoldersResponse{Holders: holders}, nil
}

func (s *creditService) ListAssignments(ctx context.Context, req *PageRequest) (*ListAssignmentsResponse, error) {
	if s.queries == nil {
		return nil, errQueriesDisabled
	}
	if req.Contract == "" {
		return nil, errMissing("contract")
	}
	entries, err := s.queries.GetAssignments(ctx, req.Contract, pageSize(req.PageSize, 50, 500), cursor(req.Before))
	if err != nil {
		return nil, err
	}
	return &ListAssignmentsResponse{Assignments: entries}, nil
}

func (s *creditService) ListFacts(ctx context.Context, req *PageRequest) (*ListFactsResponse, error) {
	if s.queries == nil {
		return nil, errQueriesDisabled
	}
	if req.Contract == "" {
		return nil, errMissing("contract")
	}
	facts, err := s.queries.GetFactHistory(ctx, req.Contract, pageSize(req.PageSize, 100, 500), cursor(req.Before))
	if err != nil {
		return nil, err
	}
	return &ListFactsResponse{Facts: facts}, nil
}

func (s *creditService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	if s.queries == nil {
		return nil, errQueriesDisabled
	}
	if req.Holder == "" {
		return nil, errMissing("holder")
	}
	entries, err := s.queries.GetJournalHistory(ctx, req.Holder, pageSize(req.PageSize, 100, 500), cursor(req.Before))
	if err != nil {
		return nil, err
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *creditService) GetCall(ctx context.Context, req *GetCallRequest) (*query.CallRecord, error) {
	if s.queries == nil {
		return nil, errQueriesDisabled
	}
	if req.CallID == "" {
		return nil, errMissing("call_id")
	}
	rec, err := s.queries.GetCall(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *creditService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	if s.queries == nil {
		return nil, errQueriesDisabled
	}
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func errMissing(field string) error {
	return fmt.Errorf("%w: %s is required", event.ErrMalformedCall, field)
}

func pageSize(requested int32, def, limit int) int {
	n := int(requested)
	switch {
	case n <= 0:
		return def
	case n > limit:
		return limit
	}
	return n
}

func cursor(before int64) *int64 {
	if before <= 0 {
		return nil
	}
	return &before
}
