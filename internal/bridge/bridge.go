// Package bridge couples a client WebSocket to a remote PTY, multiplexing
// terminal data and resize control messages over a single binary stream.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/iu2frl/cloudshell/internal/session"
)

var log = logrus.WithField("component", "bridge")

const (
	initialFrameTimeout = 3 * time.Second
	fallbackCols        = 220
	fallbackRows        = 50
	readChunkBytes      = 4096

	closeNormal            = websocket.CloseNormalClosure
	closeSessionNotFound    = 4004
	closePTYCreationFailure = 4011
)

// resizeEnvelope is the only recognized JSON control message. Frames that
// parse as JSON but don't match this shape are forwarded verbatim, same
// as any other frame.
type resizeEnvelope struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

func parseResize(frame []byte) (cols, rows int, ok bool) {
	if len(frame) == 0 || frame[0] != '{' {
		return 0, 0, false
	}
	var env resizeEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return 0, 0, false
	}
	if env.Type != "resize" || env.Cols <= 0 || env.Rows <= 0 {
		return 0, 0, false
	}
	return env.Cols, env.Rows, true
}

// Run bridges conn (already upgraded) to the shell session identified by
// sessionID, borrowed from registry. It blocks until the bridge
// terminates, then closes conn.
func Run(conn *websocket.Conn, registry *session.Registry, sessionID string) {
	defer conn.Close()

	sess := registry.Get(sessionID)
	if sess == nil {
		writeErrorFrame(conn, "session not found")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeSessionNotFound, "session not found"), time.Now().Add(time.Second))
		return
	}

	cols, rows := awaitInitialSize(conn)

	sshSession, stdin, stdout, err := openPTY(sess, cols, rows)
	if err != nil {
		writeErrorFrame(conn, "failed to create remote terminal")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closePTYCreationFailure, "pty creation failed"), time.Now().Add(time.Second))
		return
	}
	sess.SetShell(sshSession)
	defer sshSession.Close()

	code, reason := stream(conn, sshSession, stdin, stdout)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// awaitInitialSize waits up to initialFrameTimeout for the client's first
// frame. A resize envelope sets the initial dimensions; anything else
// (including a timeout) falls back to the default size. The initial frame
// is consumed regardless of its shape.
func awaitInitialSize(conn *websocket.Conn) (cols, rows int) {
	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		_, frame, err := conn.ReadMessage()
		ch <- result{frame, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil {
			if c, ro, ok := parseResize(r.frame); ok {
				return c, ro
			}
		}
	case <-time.After(initialFrameTimeout):
	}
	return fallbackCols, fallbackRows
}

func openPTY(sess *session.Session, cols, rows int) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	sshSession, err := sess.SSHClient().NewSession()
	if err != nil {
		return nil, nil, nil, err
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sshSession.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sshSession.Close()
		return nil, nil, nil, err
	}
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		sshSession.Close()
		return nil, nil, nil, err
	}
	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		sshSession.Close()
		return nil, nil, nil, err
	}
	if err := sshSession.Shell(); err != nil {
		sshSession.Close()
		return nil, nil, nil, err
	}
	return sshSession, stdin, stdout, nil
}

// stream runs the inbound/outbound pumps until either ends, then reports
// the close code/reason the caller should send. Either task ending
// terminates the other: both pumps block on calls a context can't
// interrupt (conn.ReadMessage, stdout.Read), so a watcher goroutine
// closes sshSession and conn as soon as the errgroup context is
// cancelled, unblocking whichever pump is still waiting.
func stream(conn *websocket.Conn, sshSession *ssh.Session, stdin io.WriteCloser, stdout io.Reader) (int, string) {
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return inboundPump(conn, sshSession, stdin)
	})
	g.Go(func() error {
		return outboundPump(conn, stdout)
	})

	go func() {
		<-ctx.Done()
		sshSession.Close()
		conn.Close()
	}()

	err := g.Wait()
	if err == nil || errors.Is(err, io.EOF) {
		return closeNormal, "session ended"
	}
	log.WithError(err).Debug("terminal bridge ended abnormally")
	writeErrorFrame(conn, "session terminated unexpectedly")
	return websocket.CloseInternalServerErr, "internal error"
}

func inboundPump(conn *websocket.Conn, sshSession *ssh.Session, stdin io.WriteCloser) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if cols, rows, ok := parseResize(frame); ok {
			if err := sshSession.WindowChange(rows, cols); err != nil {
				log.WithError(err).Debug("window change failed")
			}
			continue
		}
		if _, err := stdin.Write(frame); err != nil {
			return err
		}
	}
}

func outboundPump(conn *websocket.Conn, stdout io.Reader) error {
	buf := make([]byte, readChunkBytes)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

func writeErrorFrame(conn *websocket.Conn, msg string) {
	frame := []byte("\x1b[31m" + msg + "\x1b[0m\r\n")
	_ = conn.WriteMessage(websocket.BinaryMessage, frame)
}
