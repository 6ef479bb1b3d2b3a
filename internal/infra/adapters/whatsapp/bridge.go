package whatsapp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"whatsapp-dispatch/internal/domain/model"
	"whatsapp-dispatch/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// DefaultChromePath is used when the configured browser binary is missing.
const DefaultChromePath = "/usr/bin/chromium-browser"

// Browser flags handed to the sidecar for a headless, container friendly run.
var defaultBrowserArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--single-process",
	"--disable-gpu",
	"--disable-extensions",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-ipc-flooding-protection",
	"--no-default-browser-check",
	"--disable-software-rasterizer",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-sync",
	"--disable-translate",
	"--hide-scrollbars",
	"--metrics-recording-only",
	"--mute-audio",
	"--no-crash-upload",
	"--no-pings",
	"--password-store=basic",
	"--use-mock-keychain",
	"--disable-component-extensions-with-background-pages",
	"--disable-features=TranslateUI,VizDisplayCompositor,VizHitTestSurfaceLayer",
}

type BridgeConfig struct {
	// Command is the sidecar argv; Command[0] is resolved through PATH.
	Command     []string
	SessionDir  string
	UserDataDir string
	ClientID    string
	ChromePath  string
	SendTimeout time.Duration
	// DrainTimeout bounds how long output is read after the sidecar exits.
	DrainTimeout time.Duration
}

const defaultDrainTimeout = 2 * time.Second

// NewBridgeFactory returns a factory spawning one sidecar process per instance.
func NewBridgeFactory(cfg BridgeConfig, logger *zerolog.Logger) adapter.MessengerFactory {
	compLog := logger.With().Str("component", "WhatsAppBridge").Logger()
	return func(events chan<- model.LifecycleEvent) (adapter.Messenger, error) {
		if len(cfg.Command) == 0 {
			return nil, errors.New("bridge command is empty")
		}
		return &Bridge{cfg: cfg, events: events, log: &compLog}, nil
	}
}

var _ adapter.Messenger = (*Bridge)(nil)

// Bridge drives a browser-automation sidecar over stdin/stdout.
type Bridge struct {
	cfg    BridgeConfig
	events chan<- model.LifecycleEvent
	log    *zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	conn    *conn
	exited  chan struct{}
	destroy sync.Once
}

func (b *Bridge) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chrome := resolveChrome(b.cfg.ChromePath, b.log)

	cmd := exec.Command(b.cfg.Command[0], b.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(),
		"WHATSAPP_SESSION_DIR="+b.cfg.SessionDir,
		"WHATSAPP_USER_DATA_DIR="+b.cfg.UserDataDir,
		"WHATSAPP_CLIENT_ID="+b.cfg.ClientID,
		"WHATSAPP_CHROME_PATH="+chrome,
		"WHATSAPP_BROWSER_ARGS="+strings.Join(browserArgs(b.cfg.UserDataDir), "\n"),
	)
	setProcessGroup(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge stdin: %w", err)
	}
	// Plain os.Pipe pairs so Wait returns on exit even when a browser child
	// still holds the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("bridge stdout: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return fmt.Errorf("bridge stderr: %w", err)
	}
	cmd.Stdout, cmd.Stderr = stdoutW, stderrW
	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return fmt.Errorf("start bridge %q: %w", b.cfg.Command[0], err)
	}
	b.log.Info().Int("pid", cmd.Process.Pid).Str("chrome", chrome).Msg("bridge started")

	c := newConn(stdoutR, stdin, b.events, b.log)
	exited := make(chan struct{})
	b.mu.Lock()
	b.cmd, b.stdin, b.conn, b.exited = cmd, stdin, c, exited
	b.mu.Unlock()

	drained := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(2)
	go func() { defer readers.Done(); b.pipeStderr(stderrR) }()
	go func() { defer readers.Done(); c.readLoop() }()
	go func() { readers.Wait(); close(drained) }()
	go func() {
		err := cmd.Wait()
		b.log.Info().Err(err).Msg("bridge exited")
		// whatever the sidecar left running in its group goes with it
		if kerr := killProcessGroup(cmd); kerr != nil {
			b.log.Warn().Err(kerr).Msg("bridge process group kill failed")
		}
		select {
		case <-drained:
		case <-time.After(b.drainTimeout()):
			b.log.Warn().Msg("bridge output still held open after exit, closing")
			closeAll(stdoutR, stderrR)
			<-drained
		}
		closeAll(stdoutR, stderrR)
		close(exited)
	}()
	return nil
}

func (b *Bridge) SendMessage(ctx context.Context, chatID, text string) error {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return errConnClosed
	}
	if b.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.SendTimeout)
		defer cancel()
	}
	return c.send(ctx, chatID, text)
}

// Destroy asks the sidecar to close the browser, then kills it if it has not
// exited when ctx is done.
func (b *Bridge) Destroy(ctx context.Context) error {
	b.mu.Lock()
	c, cmd, stdin, exited := b.conn, b.cmd, b.stdin, b.exited
	b.mu.Unlock()
	if c == nil {
		return nil
	}

	var err error
	b.destroy.Do(func() {
		c.markDestroyed()
		if werr := c.write(outbound{Op: "destroy"}); werr != nil {
			b.log.Debug().Err(werr).Msg("bridge destroy request not delivered")
		}
		_ = stdin.Close()

		select {
		case <-exited:
		case <-ctx.Done():
			b.log.Warn().Msg("bridge did not exit in time, killing")
			if kerr := killProcessGroup(cmd); kerr != nil {
				err = fmt.Errorf("kill bridge: %w", kerr)
			}
			// bounded: the leader is dead and the drain has a timeout
			<-exited
		}
	})
	return err
}

func (b *Bridge) drainTimeout() time.Duration {
	if b.cfg.DrainTimeout > 0 {
		return b.cfg.DrainTimeout
	}
	return defaultDrainTimeout
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (b *Bridge) pipeStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		b.log.Debug().Str("stderr", sc.Text()).Msg("bridge output")
	}
}

func browserArgs(userDataDir string) []string {
	args := append([]string(nil), defaultBrowserArgs...)
	return append(args, "--user-data-dir="+userDataDir)
}

// resolveChrome keeps the configured browser path when it exists and falls
// back to DefaultChromePath otherwise.
func resolveChrome(path string, log *zerolog.Logger) string {
	if path == "" {
		return DefaultChromePath
	}
	if _, err := os.Stat(path); err != nil {
		log.Warn().Str("path", path).Str("fallback", DefaultChromePath).Msg("chromium executable not found, falling back")
		return DefaultChromePath
	}
	return path
}
