// Package ledger is the typed gateway to the distributed ledger holding
// health records and consent state. It owns transaction submission and
// call semantics and nothing else; authorization policy lives in the
// record and consent services.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/savegress/careledger/pkg/models"
)

// Gateway talks to a single deployed contract over one RPC endpoint.
// The connection is safe for concurrent use; transaction ordering is
// entirely the ledger's concern. Writes are signed by the node's
// unlocked accounts, matching the deployment model of the development
// chain; key custody is out of scope here.
type Gateway struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	now      func() time.Time
}

// Dial connects to the ledger RPC endpoint and binds the gateway to the
// deployed contract address.
func Dial(rawURL, contractAddr string, timeout time.Duration) (*Gateway, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}

	rpcClient, err := rpc.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	return &Gateway{
		rpc:      rpcClient,
		eth:      ethclient.NewClient(rpcClient),
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// Close releases the underlying RPC connection
func (g *Gateway) Close() {
	g.rpc.Close()
}

// SubmitRecord appends a new health snapshot, signed as the owner.
// Returns a submission receipt only; inclusion is not guaranteed.
func (g *Gateway) SubmitRecord(ctx context.Context, record models.HealthRecord) (models.Receipt, error) {
	owner, err := parseAddress("owner address", record.Owner)
	if err != nil {
		return models.Receipt{}, err
	}

	return g.transact(ctx, "updateData", owner,
		record.Name,
		big.NewInt(int64(record.Age)),
		big.NewInt(int64(record.Height)),
		big.NewInt(int64(record.Weight)),
		big.NewInt(int64(record.Systolic)),
		big.NewInt(int64(record.Diastolic)),
		big.NewInt(int64(record.BloodSugar)),
		record.Symptoms,
		record.Diet,
		big.NewInt(record.Timestamp.Unix()),
	)
}

// ReadLatestRecord returns the owner's most recent snapshot. The call
// carries the caller's address so the contract can apply its own
// visibility checks as defense in depth.
func (g *Gateway) ReadLatestRecord(ctx context.Context, owner, caller string) (*models.HealthRecord, error) {
	ownerAddr, err := parseAddress("owner address", owner)
	if err != nil {
		return nil, err
	}
	callerAddr, err := parseAddress("caller address", caller)
	if err != nil {
		return nil, err
	}

	out, err := g.call(ctx, callerAddr, "readData", ownerAddr)
	if err != nil {
		return nil, err
	}

	record, err := decodeRecordOutputs(ownerAddr, out)
	if err != nil {
		return nil, callErr("readData", err)
	}
	return &record, nil
}

// ReadHistory returns every snapshot for the owner in ledger-native
// order, newest first. Callers normalize ordering.
func (g *Gateway) ReadHistory(ctx context.Context, owner, caller string) ([]models.HealthRecord, error) {
	ownerAddr, err := parseAddress("owner address", owner)
	if err != nil {
		return nil, err
	}
	callerAddr, err := parseAddress("caller address", caller)
	if err != nil {
		return nil, err
	}

	out, err := g.call(ctx, callerAddr, "getDataHistory", ownerAddr)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, callErr("getDataHistory", fmt.Errorf("expected 1 output, got %d", len(out)))
	}

	tuples := *abi.ConvertType(out[0], new([]recordTuple)).(*[]recordTuple)

	records := make([]models.HealthRecord, 0, len(tuples))
	for _, t := range tuples {
		records = append(records, t.toModel(ownerAddr))
	}
	return records, nil
}

// RequestAccess submits a doctor's access request, signed as the doctor
func (g *Gateway) RequestAccess(ctx context.Context, patient, doctor string) (models.Receipt, error) {
	patientAddr, err := parseAddress("patient address", patient)
	if err != nil {
		return models.Receipt{}, err
	}
	doctorAddr, err := parseAddress("doctor address", doctor)
	if err != nil {
		return models.Receipt{}, err
	}

	return g.transact(ctx, "requestAccess", doctorAddr, patientAddr)
}

// GrantAccess approves a doctor's access, signed as the patient
func (g *Gateway) GrantAccess(ctx context.Context, patient, doctor string, at time.Time) (models.Receipt, error) {
	patientAddr, err := parseAddress("patient address", patient)
	if err != nil {
		return models.Receipt{}, err
	}
	doctorAddr, err := parseAddress("doctor address", doctor)
	if err != nil {
		return models.Receipt{}, err
	}

	return g.transact(ctx, "grantAccess", patientAddr, doctorAddr, big.NewInt(at.Unix()))
}

// RevokeAccess revokes a doctor's access, signed as the patient
func (g *Gateway) RevokeAccess(ctx context.Context, patient, doctor string, at time.Time) (models.Receipt, error) {
	patientAddr, err := parseAddress("patient address", patient)
	if err != nil {
		return models.Receipt{}, err
	}
	doctorAddr, err := parseAddress("doctor address", doctor)
	if err != nil {
		return models.Receipt{}, err
	}

	return g.transact(ctx, "revokeAccess", patientAddr, doctorAddr, big.NewInt(at.Unix()))
}

// HasAccess returns the ledger's current answer to whether the doctor
// may read the patient's records. This is authorization ground truth.
func (g *Gateway) HasAccess(ctx context.Context, patient, doctor string) (bool, error) {
	patientAddr, err := parseAddress("patient address", patient)
	if err != nil {
		return false, err
	}
	doctorAddr, err := parseAddress("doctor address", doctor)
	if err != nil {
		return false, err
	}

	out, err := g.call(ctx, doctorAddr, "hasAccess", patientAddr, doctorAddr)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, callErr("hasAccess", fmt.Errorf("expected 1 output, got %d", len(out)))
	}

	allowed, ok := out[0].(bool)
	if !ok {
		return false, callErr("hasAccess", fmt.Errorf("expected bool, got %T", out[0]))
	}
	return allowed, nil
}

// ListAccessRequests returns the patient's outstanding access requests
func (g *Gateway) ListAccessRequests(ctx context.Context, patient string) ([]models.AccessRequest, error) {
	return g.listRequests(ctx, "getAccessRequests", patient)
}

// ListResolvedRequests returns the patient's resolved access requests,
// kept on the ledger for audit
func (g *Gateway) ListResolvedRequests(ctx context.Context, patient string) ([]models.AccessRequest, error) {
	return g.listRequests(ctx, "getPreviousRequests", patient)
}

func (g *Gateway) listRequests(ctx context.Context, method, patient string) ([]models.AccessRequest, error) {
	patientAddr, err := parseAddress("patient address", patient)
	if err != nil {
		return nil, err
	}

	out, err := g.call(ctx, patientAddr, method, patientAddr)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, callErr(method, fmt.Errorf("expected 1 output, got %d", len(out)))
	}

	tuples := *abi.ConvertType(out[0], new([]requestTuple)).(*[]requestTuple)

	requests := make([]models.AccessRequest, 0, len(tuples))
	for _, t := range tuples {
		requests = append(requests, t.toModel())
	}
	return requests, nil
}

// call performs a read-only contract call with the caller's address in
// the message, bounded by the configured deadline.
func (g *Gateway) call(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, callErr(method, fmt.Errorf("encode call: %w", err))
	}

	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	raw, err := g.eth.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &g.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, callErr(method, err)
	}

	out, err := g.abi.Unpack(method, raw)
	if err != nil {
		return nil, callErr(method, fmt.Errorf("decode result: %w", err))
	}
	return out, nil
}

// transact submits a state-changing transaction signed by the node as
// the given account. The returned receipt only acknowledges submission.
// No retry here: the retry policy belongs to callers, and writes are
// not idempotent.
func (g *Gateway) transact(ctx context.Context, method string, from common.Address, args ...interface{}) (models.Receipt, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return models.Receipt{}, txErr(method, fmt.Errorf("encode transaction: %w", err))
	}

	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	var txHash common.Hash
	err = g.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", map[string]interface{}{
		"from": from,
		"to":   g.contract,
		"data": hexutil.Bytes(data),
	})
	if err != nil {
		return models.Receipt{}, txErr(method, err)
	}

	return models.Receipt{
		TxHash:      txHash.Hex(),
		SubmittedAt: g.now().UTC(),
	}, nil
}

func (g *Gateway) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func parseAddress(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, &models.ValidationError{Field: field, Reason: "is required"}
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, &models.ValidationError{Field: field, Reason: "is not a valid ledger address"}
	}
	return common.HexToAddress(value), nil
}
