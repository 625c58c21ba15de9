package remote

import (
	"github.com/openhazard/engine/internal/parallel"
	"github.com/openhazard/engine/internal/probmap"
)

// #region wire-types

// TaskRequest ships one task by reference; the worker resolves it against
// its own loaded model.
type TaskRequest struct {
	Seq        int
	Kind       string
	Branch     int
	SourceID   string
	RupIndices []int
	GroupID    int
}

// TimingSample mirrors probmap.Timing on the wire.
type TimingSample struct {
	SourceID string
	Sites    int
	Seconds  float64
}

// TaskResponse carries one partial probability map back.
type TaskResponse struct {
	Levels      int
	Gsims       int
	Data        map[int][]float64
	EffRuptures map[int]int64
	CalcTimes   []TimingSample
}

// PingRequest asks a worker for its loaded shape.
type PingRequest struct{}

// PingResponse reports the worker's curve shape, checked against the
// coordinator's before any task is dispatched.
type PingResponse struct {
	Levels int
	Gsims  int
}

// #endregion wire-types

// #region conversions

func encodeTask(t parallel.Task) *TaskRequest {
	return &TaskRequest{
		Seq:        t.Seq,
		Kind:       string(t.Kind),
		Branch:     t.Branch,
		SourceID:   t.SourceID,
		RupIndices: t.RupIndices,
		GroupID:    t.GroupID,
	}
}

func decodeTask(req *TaskRequest) parallel.Task {
	return parallel.Task{
		Seq:        req.Seq,
		Kind:       parallel.Kind(req.Kind),
		Branch:     req.Branch,
		SourceID:   req.SourceID,
		RupIndices: req.RupIndices,
		GroupID:    req.GroupID,
	}
}

func encodeMap(pm *probmap.Map) *TaskResponse {
	resp := &TaskResponse{
		Levels:      pm.Levels,
		Gsims:       pm.Gsims,
		Data:        make(map[int][]float64, len(pm.Data)),
		EffRuptures: make(map[int]int64, len(pm.EffRuptures)),
	}
	for site, c := range pm.Data {
		resp.Data[site] = append([]float64(nil), c...)
	}
	for grp, n := range pm.EffRuptures {
		resp.EffRuptures[grp] = n
	}
	for _, ct := range pm.CalcTimes {
		resp.CalcTimes = append(resp.CalcTimes, TimingSample(ct))
	}
	return resp
}

func decodeMap(resp *TaskResponse) *probmap.Map {
	pm := probmap.New(resp.Levels, resp.Gsims)
	for site, c := range resp.Data {
		pm.Data[site] = append(probmap.Curve(nil), c...)
	}
	for grp, n := range resp.EffRuptures {
		pm.EffRuptures[grp] = n
	}
	for _, ct := range resp.CalcTimes {
		pm.CalcTimes = append(pm.CalcTimes, probmap.Timing(ct))
	}
	return pm
}

// #endregion conversions
