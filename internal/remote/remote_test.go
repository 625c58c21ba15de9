package remote

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/parallel"
	"github.com/openhazard/engine/internal/sitefilter"
	"github.com/openhazard/engine/internal/source"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func workerFixture(t *testing.T) (*calc.LocalRunner, *gmpe.Evaluator) {
	t.Helper()
	src, err := source.NewFault(source.FaultSpec{
		ID:             "flt-r",
		Name:           "remote fault",
		TectonicRegion: "Active Shallow Crust",
		MFD: source.DiscreteMFD{Bins: []source.MagRate{
			{Mag: 5.5, Rate: 0.02},
			{Mag: 6.5, Rate: 0.004},
		}},
		Trace:       []source.Point{{Lon: 0, Lat: 0}, {Lon: 0.3, Lat: 0}},
		Dip:         60,
		Rake:        90,
		LowerDepth:  15,
		MeshSpacing: 2,
		AspectRatio: 1.5,
		TimeSpan:    50,
	})
	if err != nil {
		t.Fatalf("NewFault: %v", err)
	}
	ev, err := gmpe.NewEvaluator(
		[]gmpe.GroundMotionModel{gmpe.BackboneGMPE{}},
		[]gmpe.IMTLevels{{IMT: "PGA", Levels: []float64{0.05, 0.1, 0.2, 0.4}}},
		3,
	)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	branches := []calc.Branch{{Ordinal: 0, Path: "b0", Weight: 1, Sources: []source.Source{src}}}
	sites := sitefilter.NewCollection([]sitefilter.Site{
		{Lon: 0.1, Lat: 0.1, Vs30: 760},
		{Lon: 0.2, Lat: -0.1, Vs30: 400},
	})
	dist := sitefilter.IntegrationDistance{Default: 200}
	return calc.NewLocalRunner(branches, sites, ev, dist), ev
}

func startWorker(t *testing.T, runner parallel.Runner, levels, gsims int) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewServer(runner, levels, gsims).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := Dial([]string{"passthrough:///bufnet"},
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRemoteMatchesLocal(t *testing.T) {
	local, ev := workerFixture(t)
	client := startWorker(t, local, ev.NumLevels(), ev.NumModels())

	task := parallel.Task{Seq: 7, Kind: parallel.KindBranch, Branch: 0, GroupID: 0}
	want, err := local.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("local run: %v", err)
	}
	got, err := client.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("remote run: %v", err)
	}

	if got.Levels != want.Levels || got.Gsims != want.Gsims {
		t.Fatalf("shape %dx%d, want %dx%d", got.Levels, got.Gsims, want.Levels, want.Gsims)
	}
	if len(got.Data) != len(want.Data) {
		t.Fatalf("curves for %d sites, want %d", len(got.Data), len(want.Data))
	}
	// Gob carries float64 bits verbatim, so the comparison is exact.
	for site, wc := range want.Data {
		gc, ok := got.Data[site]
		if !ok {
			t.Fatalf("site %d missing from remote result", site)
		}
		for i := range wc {
			if gc[i] != wc[i] {
				t.Fatalf("site %d poe[%d]: remote %g, local %g", site, i, gc[i], wc[i])
			}
		}
	}
	if got.EffRuptures[0] != want.EffRuptures[0] {
		t.Fatalf("eff ruptures: remote %d, local %d", got.EffRuptures[0], want.EffRuptures[0])
	}
	if len(got.CalcTimes) != len(want.CalcTimes) {
		t.Fatalf("timing samples: remote %d, local %d", len(got.CalcTimes), len(want.CalcTimes))
	}
}

func TestRemoteChunkTask(t *testing.T) {
	local, ev := workerFixture(t)
	client := startWorker(t, local, ev.NumLevels(), ev.NumModels())

	task := parallel.Task{Seq: 1, Kind: parallel.KindChunk, Branch: 0, SourceID: "flt-r", RupIndices: []int{1}, GroupID: 0}
	got, err := client.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("remote run: %v", err)
	}
	if got.EffRuptures[0] != 1 {
		t.Fatalf("eff ruptures = %d, want 1", got.EffRuptures[0])
	}
}

func TestRemoteTaskFailure(t *testing.T) {
	local, ev := workerFixture(t)
	client := startWorker(t, local, ev.NumLevels(), ev.NumModels())

	task := parallel.Task{Seq: 2, Kind: parallel.KindBranch, Branch: 42, GroupID: 42}
	_, err := client.Run(context.Background(), task)
	if err == nil {
		t.Fatal("unknown branch succeeded remotely")
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("status code = %v, want Internal", status.Code(err))
	}
	if !strings.Contains(err.Error(), "unknown branch") {
		t.Fatalf("error does not carry the worker failure: %v", err)
	}
}

func TestCheckShape(t *testing.T) {
	local, ev := workerFixture(t)
	client := startWorker(t, local, ev.NumLevels(), ev.NumModels())

	if err := client.CheckShape(context.Background(), ev.NumLevels(), ev.NumModels()); err != nil {
		t.Fatalf("CheckShape: %v", err)
	}
	err := client.CheckShape(context.Background(), ev.NumLevels()+1, ev.NumModels())
	if err == nil {
		t.Fatal("shape mismatch accepted")
	}
	if !strings.Contains(err.Error(), "shape") {
		t.Fatalf("unexpected mismatch error: %v", err)
	}
}

func TestGobCodecRoundTrip(t *testing.T) {
	in := &TaskRequest{Seq: 3, Kind: "chunk", Branch: 1, SourceID: "s", RupIndices: []int{0, 2, 4}, GroupID: 1}
	data, err := gobCodec{}.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := new(TaskRequest)
	if err := (gobCodec{}).Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Seq != 3 || out.Kind != "chunk" || out.SourceID != "s" || len(out.RupIndices) != 3 {
		t.Fatalf("round trip = %+v", out)
	}
}
