package gateway

import (
	"errors"
	"io"
	"os"
	"time"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	"github.com/echocast/core/internal/pkg/nativelog"
)

// subscribeStdout streams realtime log frames to an admin client,
// prefixed with a snapshot of today's log file.
func (h *Hub) subscribeStdout(client *socketio.Socket) {
	sid := string(client.Id())
	if sid == "" {
		return
	}

	h.logSubMu.Lock()
	if _, exists := h.logSubs[sid]; exists {
		h.logSubMu.Unlock()
		return
	}
	streamID, stream := nativelog.Subscribe(512)
	stopCh := make(chan struct{})
	h.logSubs[sid] = adminLogSubscription{
		streamID: streamID,
		stopCh:   stopCh,
	}
	h.logSubMu.Unlock()

	h.emitLogSnapshot(client)

	go func() {
		for {
			select {
			case <-stopCh:
				return
			case frame, ok := <-stream:
				if !ok {
					return
				}
				if frame == "" {
					continue
				}
				_ = client.Emit("message", h.gatewayMessageFormat("STDOUT", frame))
			}
		}
	}()
}

func (h *Hub) unsubscribeStdout(sid string) {
	if sid == "" {
		return
	}

	h.logSubMu.Lock()
	sub, exists := h.logSubs[sid]
	if exists {
		delete(h.logSubs, sid)
	}
	h.logSubMu.Unlock()
	if !exists {
		return
	}

	close(sub.stopCh)
	nativelog.Unsubscribe(sub.streamID)
}

func (h *Hub) emitLogSnapshot(client *socketio.Socket) {
	path := nativelog.TodayFilePath(time.Now())
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && h.logger != nil {
			h.logger.Warn("gateway log snapshot open failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	defer file.Close()

	buf := make([]byte, nativeLogSnapshotChunkSize)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			_ = client.Emit("message", h.gatewayMessageFormat("STDOUT", string(buf[:n])))
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) && h.logger != nil {
			h.logger.Warn("gateway log snapshot read failed", zap.String("path", path), zap.Error(readErr))
		}
		return
	}
}
