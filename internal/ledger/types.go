package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/savegress/careledger/pkg/models"
)

// Client is the typed surface of the ledger consumed by the record and
// consent services. All positional contract data is decoded behind this
// boundary; raw tuples never cross it.
type Client interface {
	SubmitRecord(ctx context.Context, record models.HealthRecord) (models.Receipt, error)
	ReadLatestRecord(ctx context.Context, owner, caller string) (*models.HealthRecord, error)
	ReadHistory(ctx context.Context, owner, caller string) ([]models.HealthRecord, error)
	RequestAccess(ctx context.Context, patient, doctor string) (models.Receipt, error)
	GrantAccess(ctx context.Context, patient, doctor string, at time.Time) (models.Receipt, error)
	RevokeAccess(ctx context.Context, patient, doctor string, at time.Time) (models.Receipt, error)
	HasAccess(ctx context.Context, patient, doctor string) (bool, error)
	ListAccessRequests(ctx context.Context, patient string) ([]models.AccessRequest, error)
	ListResolvedRequests(ctx context.Context, patient string) ([]models.AccessRequest, error)
}

// recordTuple mirrors the contract's record struct; field names must
// match the ABI component names for decoding.
type recordTuple struct {
	Name       string
	Age        *big.Int
	Height     *big.Int
	Weight     *big.Int
	Systolic   *big.Int
	Diastolic  *big.Int
	BloodSugar *big.Int
	Symptoms   string
	Diet       string
	Timestamp  *big.Int
}

// requestTuple mirrors the contract's access-request struct
type requestTuple struct {
	Doctor    common.Address
	Patient   common.Address
	Status    uint8
	GrantedAt *big.Int
	RevokedAt *big.Int
}

// Contract status codes for access requests
const (
	chainStatusPending  uint8 = 0
	chainStatusApproved uint8 = 1
	chainStatusRevoked  uint8 = 2
)

func (t recordTuple) toModel(owner common.Address) models.HealthRecord {
	return models.HealthRecord{
		Owner:      owner.Hex(),
		Name:       t.Name,
		Age:        bigToInt(t.Age),
		Height:     bigToInt(t.Height),
		Weight:     bigToInt(t.Weight),
		Systolic:   bigToInt(t.Systolic),
		Diastolic:  bigToInt(t.Diastolic),
		BloodSugar: bigToInt(t.BloodSugar),
		Symptoms:   t.Symptoms,
		Diet:       t.Diet,
		Timestamp:  unixToTime(t.Timestamp),
	}
}

func (t requestTuple) toModel() models.AccessRequest {
	req := models.AccessRequest{
		Doctor:  t.Doctor.Hex(),
		Patient: t.Patient.Hex(),
	}

	switch t.Status {
	case chainStatusApproved:
		req.Status = models.StatusApproved
	case chainStatusRevoked:
		req.Status = models.StatusRevoked
	default:
		req.Status = models.StatusPending
	}

	if at := bigToInt64(t.GrantedAt); at > 0 {
		ts := time.Unix(at, 0).UTC()
		req.GrantedAt = &ts
	}
	if at := bigToInt64(t.RevokedAt); at > 0 {
		ts := time.Unix(at, 0).UTC()
		req.RevokedAt = &ts
	}

	return req
}

// decodeRecordOutputs decodes readData's flat 10-value output
func decodeRecordOutputs(owner common.Address, out []interface{}) (models.HealthRecord, error) {
	if len(out) != 10 {
		return models.HealthRecord{}, fmt.Errorf("expected 10 outputs, got %d", len(out))
	}

	t := recordTuple{}
	var ok bool
	if t.Name, ok = out[0].(string); !ok {
		return models.HealthRecord{}, fmt.Errorf("output 0: expected string, got %T", out[0])
	}
	ints := []**big.Int{&t.Age, &t.Height, &t.Weight, &t.Systolic, &t.Diastolic, &t.BloodSugar}
	for i, dst := range ints {
		v, ok := out[i+1].(*big.Int)
		if !ok {
			return models.HealthRecord{}, fmt.Errorf("output %d: expected uint256, got %T", i+1, out[i+1])
		}
		*dst = v
	}
	if t.Symptoms, ok = out[7].(string); !ok {
		return models.HealthRecord{}, fmt.Errorf("output 7: expected string, got %T", out[7])
	}
	if t.Diet, ok = out[8].(string); !ok {
		return models.HealthRecord{}, fmt.Errorf("output 8: expected string, got %T", out[8])
	}
	ts, ok := out[9].(*big.Int)
	if !ok {
		return models.HealthRecord{}, fmt.Errorf("output 9: expected uint256, got %T", out[9])
	}
	t.Timestamp = ts

	return t.toModel(owner), nil
}

func bigToInt(v *big.Int) int {
	return int(bigToInt64(v))
}

func bigToInt64(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}

func unixToTime(v *big.Int) time.Time {
	return time.Unix(bigToInt64(v), 0).UTC()
}
