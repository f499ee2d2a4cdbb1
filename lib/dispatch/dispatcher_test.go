package dispatch

import (
	"testing"

	"github.com/go-i2p/go-i2p-core/lib/i2np"
)

type recordingDB struct {
	msgs []*i2np.Message
}

func (r *recordingDB) HandleMessage(msg *i2np.Message) { r.msgs = append(r.msgs, msg) }

type recordingUpstream struct {
	garlic, status, build, buildReply, data int
	tunnelDataBatches                       [][]*i2np.Message
	tunnelGatewayBatches                    [][]*i2np.Message
}

func (r *recordingUpstream) HandleGarlic(*i2np.Message)           { r.garlic++ }
func (r *recordingUpstream) HandleDeliveryStatus(*i2np.Message)   { r.status++ }
func (r *recordingUpstream) HandleTunnelBuild(*i2np.Message)      { r.build++ }
func (r *recordingUpstream) HandleTunnelBuildReply(*i2np.Message) { r.buildReply++ }
func (r *recordingUpstream) HandleData(*i2np.Message)             { r.data++ }
func (r *recordingUpstream) HandleTunnelData(msgs []*i2np.Message) {
	r.tunnelDataBatches = append(r.tunnelDataBatches, msgs)
}
func (r *recordingUpstream) HandleTunnelGateway(msgs []*i2np.Message) {
	r.tunnelGatewayBatches = append(r.tunnelGatewayBatches, msgs)
}

func msgOfType(t uint8) *i2np.Message { return &i2np.Message{Type: t} }

func TestDispatchRouting(t *testing.T) {
	db := &recordingDB{}
	up := &recordingUpstream{}
	d := New(db, up, nil)

	d.Dispatch([]*i2np.Message{
		msgOfType(i2np.TypeDatabaseStore),
		msgOfType(i2np.TypeDatabaseLookup),
		msgOfType(i2np.TypeDatabaseSearchReply),
		msgOfType(i2np.TypeGarlic),
		msgOfType(i2np.TypeDeliveryStatus),
		msgOfType(i2np.TypeTunnelBuild),
		msgOfType(i2np.TypeVariableTunnelBuildReply),
		msgOfType(i2np.TypeData),
	})

	if len(db.msgs) != 3 {
		t.Fatalf("database got %d messages, want 3", len(db.msgs))
	}
	if up.garlic != 1 || up.status != 1 || up.build != 1 || up.buildReply != 1 || up.data != 1 {
		t.Fatalf("upstream routing incorrect: %+v", up)
	}
}

func TestDispatchBatchesTunnelTraffic(t *testing.T) {
	up := &recordingUpstream{}
	d := New(&recordingDB{}, up, nil)

	d.Dispatch([]*i2np.Message{
		msgOfType(i2np.TypeTunnelData),
		msgOfType(i2np.TypeTunnelGateway),
		msgOfType(i2np.TypeTunnelData),
		msgOfType(i2np.TypeTunnelData),
		msgOfType(i2np.TypeTunnelGateway),
	})

	if len(up.tunnelDataBatches) != 1 || len(up.tunnelDataBatches[0]) != 3 {
		t.Fatalf("tunnel-data not batched into one flush of 3")
	}
	if len(up.tunnelGatewayBatches) != 1 || len(up.tunnelGatewayBatches[0]) != 2 {
		t.Fatalf("tunnel-gateway not batched into one flush of 2")
	}
}

func TestDispatchSurvivesNilUpstream(t *testing.T) {
	d := New(&recordingDB{}, nil, nil)
	d.Dispatch([]*i2np.Message{
		msgOfType(i2np.TypeGarlic),
		msgOfType(i2np.TypeTunnelData),
		nil,
		msgOfType(99),
	})
}
