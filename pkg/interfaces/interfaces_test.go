package interfaces_test

import (
	"context"
	"testing"

	"roboclass/internal/connection"
	"roboclass/internal/hub"
	"roboclass/internal/processor"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// ARCHITECTURAL VALIDATION TEST: Concrete components satisfy the shared interfaces
var (
	_ interfaces.Connection       = (*connection.Connection)(nil)
	_ interfaces.Hub              = (*hub.Hub)(nil)
	_ interfaces.MessageProcessor = (*processor.Processor)(nil)
)

type recordingProcessor struct {
	seen []types.MessageType
}

func (p *recordingProcessor) Process(_ context.Context, _ interfaces.Connection, msg *types.Message) {
	p.seen = append(p.seen, msg.Type)
}

// FUNCTIONAL VALIDATION TEST: Any MessageProcessor can sit behind a connection
func TestMessageProcessor_HandFake(t *testing.T) {
	var p interfaces.MessageProcessor = &recordingProcessor{}
	p.Process(context.Background(), nil, &types.Message{Type: types.MessageTypeAuthenticate})

	if seen := p.(*recordingProcessor).seen; len(seen) != 1 || seen[0] != types.MessageTypeAuthenticate {
		t.Errorf("Unexpected processed messages %v", seen)
	}
}

func TestErrors_Distinct(t *testing.T) {
	if interfaces.ErrConnectionClosed == interfaces.ErrSendTimeout {
		t.Error("Connection errors must be distinct")
	}
}
