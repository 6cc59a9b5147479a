package output

import (
	"context"
	"fmt"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const srtDialTimeout = 10 * time.Second

// srtSink adapts an outbound srtgo.Conn to the write-callback shape
// astiav.AllocIOContext expects, mirroring ingest/srt/caller.go's
// dial-with-timeout pattern on the send side (srtgo.Dial instead of
// srtgo.Listen/Accept).
type srtSink struct {
	conn *srtgo.Conn
}

// dialSRTSink dials url's host:port (the srt:// prefix stripped) with the
// same bounded dial timeout the teacher's ingest caller uses.
func dialSRTSink(ctx context.Context, url string) (*srtSink, error) {
	addr := url[len("srt://"):]
	cfg := srtgo.DefaultConfig()

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial %s: %w", addr, res.err)
		}
		return &srtSink{conn: res.conn}, nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("srt dial %s timed out after %s", addr, srtDialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// write is the astiav.AllocIOContext write callback: a straight passthrough
// to the underlying SRT connection.
func (s *srtSink) write(b []byte) (int, error) {
	return s.conn.Write(b)
}

// Close tears down the SRT connection.
func (s *srtSink) Close() error {
	return s.conn.Close()
}
