package api

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// Snapshot structs carry the model.Report JSON field names:
//
//	{mmsi, sog_knots, cog_rad, heading_rad, lat_rad, lon_rad, timestamp_ms, label, lat_deg, lon_deg}
//
// Exported contacts are {"<mmsi>": [snapshot, ...]} with histories oldest
// first.

// SnapshotToStruct encodes s.
func SnapshotToStruct(s model.Snapshot) *structpb.Struct {
	r := model.ReportOf(s)
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"mmsi":         structpb.NewNumberValue(float64(r.MMSI)),
		"sog_knots":    structpb.NewNumberValue(r.SOGKnots),
		"cog_rad":      structpb.NewNumberValue(r.COGRad),
		"heading_rad":  structpb.NewNumberValue(r.HeadingRad),
		"lat_rad":      structpb.NewNumberValue(r.LatRad),
		"lon_rad":      structpb.NewNumberValue(r.LonRad),
		"timestamp_ms": structpb.NewNumberValue(float64(r.TimestampMs)),
		"label":        structpb.NewStringValue(r.Label),
		"lat_deg":      structpb.NewNumberValue(r.LatDeg),
		"lon_deg":      structpb.NewNumberValue(r.LonDeg),
	}}
}

// SnapshotFromStruct decodes a snapshot. mmsi and timestamp_ms are
// required; the other numeric fields default to zero.
func SnapshotFromStruct(st *structpb.Struct) (model.Snapshot, error) {
	fields := st.GetFields()
	if fields == nil {
		return model.Snapshot{}, fmt.Errorf("%w: empty snapshot", ErrInvalidRequest)
	}

	mmsi, err := requiredInt(fields, "mmsi", math.MinInt32, math.MaxInt32)
	if err != nil {
		return model.Snapshot{}, err
	}
	ts, err := requiredInt(fields, "timestamp_ms", math.MinInt64, math.MaxInt64)
	if err != nil {
		return model.Snapshot{}, err
	}

	var nums [5]float64
	for i, key := range []string{"sog_knots", "cog_rad", "heading_rad", "lat_rad", "lon_rad"} {
		if nums[i], err = optionalNumber(fields, key); err != nil {
			return model.Snapshot{}, err
		}
	}

	label := ""
	if v, ok := fields["label"]; ok {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return model.Snapshot{}, fmt.Errorf("%w: label must be a string", ErrInvalidRequest)
		}
		label = sv.StringValue
	}

	return model.NewSnapshot(model.MMSI(mmsi), nums[0], nums[1], nums[2], nums[3], nums[4], ts, label), nil
}

// FleetToList encodes a slice of snapshots.
func FleetToList(fleet []model.Snapshot) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(fleet))
	for _, s := range fleet {
		values = append(values, structpb.NewStructValue(SnapshotToStruct(s)))
	}
	return &structpb.ListValue{Values: values}
}

// FleetFromList decodes a list of snapshot structs.
func FleetFromList(list *structpb.ListValue) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("%w: element %d is not a snapshot", ErrInvalidRequest, i)
		}
		s, err := SnapshotFromStruct(st)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// LabelledToStruct encodes a label-keyed prediction.
func LabelledToStruct(m map[string]model.Snapshot) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(m))
	for label, s := range m {
		fields[label] = structpb.NewStructValue(SnapshotToStruct(s))
	}
	return &structpb.Struct{Fields: fields}
}

// LabelledFromStruct decodes a label-keyed prediction.
func LabelledFromStruct(st *structpb.Struct) (map[string]model.Snapshot, error) {
	out := make(map[string]model.Snapshot, len(st.GetFields()))
	for label, v := range st.GetFields() {
		inner := v.GetStructValue()
		if inner == nil {
			return nil, fmt.Errorf("%w: %q is not a snapshot", ErrInvalidRequest, label)
		}
		s, err := SnapshotFromStruct(inner)
		if err != nil {
			return nil, fmt.Errorf("label %q: %w", label, err)
		}
		out[label] = s
	}
	return out, nil
}

// ContactsToStruct encodes exported histories keyed by decimal MMSI.
func ContactsToStruct(c model.Contacts) *structpb.Struct {
	ids := make([]model.MMSI, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fields := make(map[string]*structpb.Value, len(c))
	for _, id := range ids {
		fields[strconv.FormatInt(int64(id), 10)] = structpb.NewListValue(FleetToList(c[id]))
	}
	return &structpb.Struct{Fields: fields}
}

// ContactsFromStruct decodes histories encoded by ContactsToStruct.
func ContactsFromStruct(st *structpb.Struct) (model.Contacts, error) {
	out := make(model.Contacts, len(st.GetFields()))
	for key, v := range st.GetFields() {
		id, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad mmsi key %q", ErrInvalidRequest, key)
		}
		list := v.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("%w: history for %s is not a list", ErrInvalidRequest, key)
		}
		history, err := FleetFromList(list)
		if err != nil {
			return nil, fmt.Errorf("mmsi %s: %w", key, err)
		}
		for i, s := range history {
			if s.MMSI() != model.MMSI(id) {
				return nil, fmt.Errorf("%w: mmsi %s entry %d carries mmsi %d", ErrInvalidRequest, key, i, s.MMSI())
			}
		}
		out[model.MMSI(id)] = history
	}
	return out, nil
}

// PredictionRequest is the decoded GetPredictedPositions request.
type PredictionRequest struct {
	MMSI      model.MMSI
	OffsetsMs []int64
}

// PredictionRequestToStruct encodes {mmsi, offsets_ms}.
func PredictionRequestToStruct(req PredictionRequest) *structpb.Struct {
	offsets := make([]*structpb.Value, 0, len(req.OffsetsMs))
	for _, o := range req.OffsetsMs {
		offsets = append(offsets, structpb.NewNumberValue(float64(o)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"mmsi":       structpb.NewNumberValue(float64(req.MMSI)),
		"offsets_ms": structpb.NewListValue(&structpb.ListValue{Values: offsets}),
	}}
}

// PredictionRequestFromStruct decodes {mmsi, offsets_ms}.
func PredictionRequestFromStruct(st *structpb.Struct) (PredictionRequest, error) {
	fields := st.GetFields()
	mmsi, err := requiredInt(fields, "mmsi", math.MinInt32, math.MaxInt32)
	if err != nil {
		return PredictionRequest{}, err
	}
	req := PredictionRequest{MMSI: model.MMSI(mmsi)}
	for i, v := range fields["offsets_ms"].GetListValue().GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || !isWhole(n.NumberValue) {
			return PredictionRequest{}, fmt.Errorf("%w: offsets_ms[%d] must be an integer", ErrInvalidRequest, i)
		}
		req.OffsetsMs = append(req.OffsetsMs, int64(n.NumberValue))
	}
	return req, nil
}

// FleetRequestToStruct encodes {at_ms}. A nil atMs asks for the current
// fleet.
func FleetRequestToStruct(atMs *int64) *structpb.Struct {
	st := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if atMs != nil {
		st.Fields["at_ms"] = structpb.NewNumberValue(float64(*atMs))
	}
	return st
}

// FleetRequestFromStruct decodes {at_ms}. ok is false when at_ms is absent.
func FleetRequestFromStruct(st *structpb.Struct) (atMs int64, ok bool, err error) {
	fields := st.GetFields()
	if _, present := fields["at_ms"]; !present {
		return 0, false, nil
	}
	at, err := requiredInt(fields, "at_ms", -maxExactInt, maxExactInt)
	if err != nil {
		return 0, false, err
	}
	return at, true, nil
}

// ImportRequestToStruct encodes {replace, contacts}.
func ImportRequestToStruct(c model.Contacts, replace bool) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"replace":  structpb.NewBoolValue(replace),
		"contacts": structpb.NewStructValue(ContactsToStruct(c)),
	}}
}

// ImportRequestFromStruct decodes {replace, contacts}.
func ImportRequestFromStruct(st *structpb.Struct) (model.Contacts, bool, error) {
	fields := st.GetFields()
	replace := fields["replace"].GetBoolValue()
	inner := fields["contacts"].GetStructValue()
	if inner == nil {
		return nil, false, fmt.Errorf("%w: contacts is required", ErrInvalidRequest)
	}
	c, err := ContactsFromStruct(inner)
	if err != nil {
		return nil, false, err
	}
	return c, replace, nil
}

// maxExactInt is the largest integer a JSON number carries without loss.
const maxExactInt = 1 << 53

func requiredInt(fields map[string]*structpb.Value, key string, lo, hi float64) (int64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || !isWhole(n.NumberValue) || n.NumberValue < lo || n.NumberValue > hi {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, key)
	}
	return int64(n.NumberValue), nil
}

func optionalNumber(fields map[string]*structpb.Value, key string) (float64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
	}
	return n.NumberValue, nil
}

func isWhole(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}
