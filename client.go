package peercall

import (
	"context"
	"fmt"
	"sync"

	"github.com/opd-ai/peercall/av"
	"github.com/opd-ai/peercall/factory"
	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/transport"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ClientOption customizes New.
type ClientOption func(*clientSetup)

type clientSetup struct {
	factory *factory.SignalingFactory
	source  media.Source
	ringer  av.Ringer
}

// WithSignalingFactory makes the client dial through f. Clients sharing a
// simulation factory share its broker.
func WithSignalingFactory(f *factory.SignalingFactory) ClientOption {
	return func(s *clientSetup) { s.factory = f }
}

// WithMediaSource replaces the platform capture source.
func WithMediaSource(src media.Source) ClientOption {
	return func(s *clientSetup) { s.source = src }
}

// WithRinger plays ring tones through r.
func WithRinger(r av.Ringer) ClientOption {
	return func(s *clientSetup) { s.ringer = r }
}

// Client is one local user able to place and receive calls.
type Client struct {
	options   *Options
	factory   *factory.SignalingFactory
	transport *transport.WebRTCTransport
	media     *media.Controller
	directory *identity.Directory
	manager   *av.Manager

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New creates a client from options. A nil options uses NewOptions.
func New(options *Options, opts ...ClientOption) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	setup := &clientSetup{}
	for _, opt := range opts {
		opt(setup)
	}

	if setup.factory == nil {
		f, err := factory.NewSignalingFactory(options.SignalingConfig())
		if err != nil {
			return nil, fmt.Errorf("signaling factory: %w", err)
		}
		setup.factory = f
	}
	dialer, err := setup.factory.CreateDialer()
	if err != nil {
		return nil, fmt.Errorf("signaling dialer: %w", err)
	}

	trCfg := options.transportConfig(setup.factory.ClientConfig())
	if setup.source == nil {
		setup.source, trCfg.Codecs, err = defaultSource(options)
		if err != nil {
			return nil, err
		}
	}

	tr, err := transport.NewWebRTCTransport(dialer, trCfg)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	mc, err := media.NewController(setup.source)
	if err != nil {
		return nil, multierr.Append(err, tr.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	dir := identity.NewDirectory(options.FallbackDomain)
	if options.UsersFile != "" {
		if err := dir.Watch(ctx, options.UsersFile); err != nil {
			cancel()
			return nil, multierr.Append(fmt.Errorf("users file: %w", err), tr.Close())
		}
	}

	cfg := options.managerConfig(dir)
	if setup.ringer != nil {
		cfg.Ringer = setup.ringer
	}
	mgr, err := av.NewManager(tr, mc, cfg)
	if err != nil {
		cancel()
		return nil, multierr.Append(err, tr.Close())
	}

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"use_simulation": options.UseSimulation,
		"users_file":     options.UsersFile,
	}).Info("Call client created")

	return &Client{
		options:   options,
		factory:   setup.factory,
		transport: tr,
		media:     mc,
		directory: dir,
		manager:   mgr,
		cancel:    cancel,
	}, nil
}

// defaultSource picks synthetic media for simulation and device capture
// otherwise, with the codecs the source encodes.
func defaultSource(options *Options) (media.Source, func(*webrtc.MediaEngine) error, error) {
	if options.UseSimulation {
		return media.SyntheticSource{}, nil, nil
	}
	src, err := media.NewDeviceSource()
	if err != nil {
		return nil, nil, fmt.Errorf("media devices: %w", err)
	}
	codecs := func(me *webrtc.MediaEngine) error {
		src.PopulateMediaEngine(me)
		return nil
	}
	return src, codecs, nil
}

// Login registers email with the broker. Calling it again switches identity.
func (c *Client) Login(ctx context.Context, email string) error {
	return c.manager.Start(ctx, email)
}

// Call places a call to target, an address or a directory username.
func (c *Client) Call(ctx context.Context, target string, kind media.Kind) error {
	return c.manager.StartCall(ctx, target, kind)
}

// Accept answers the ringing inbound call.
func (c *Client) Accept(ctx context.Context) error {
	return c.manager.AcceptCall(ctx)
}

// Reject declines the ringing inbound call.
func (c *Client) Reject() error {
	return c.manager.RejectCall()
}

// HangUp ends the current call.
func (c *Client) HangUp() error {
	return c.manager.HangUp()
}

// Retry redials the last failed outbound call.
func (c *Client) Retry(ctx context.Context) error {
	return c.manager.Retry(ctx)
}

// DismissNotice clears the end-of-call notice.
func (c *Client) DismissNotice() {
	c.manager.DismissNotice()
}

// ToggleAudio mutes or unmutes the microphone.
func (c *Client) ToggleAudio(enabled bool) error {
	return c.manager.ToggleAudio(enabled)
}

// ToggleVideo hides or shows the camera.
func (c *Client) ToggleVideo(enabled bool) error {
	return c.manager.ToggleVideo(enabled)
}

// StartScreenShare sends the display instead of the camera.
func (c *Client) StartScreenShare(ctx context.Context) error {
	return c.manager.StartScreenShare(ctx)
}

// StopScreenShare goes back to the camera.
func (c *Client) StopScreenShare() error {
	return c.manager.StopScreenShare()
}

// Snapshot returns the current call state.
func (c *Client) Snapshot() av.Snapshot {
	return c.manager.Snapshot()
}

// OnStateChange registers fn for every state snapshot.
func (c *Client) OnStateChange(fn func(av.Snapshot)) {
	c.manager.OnStateChange(fn)
}

// RemoteAudioLevel returns the remote peak level in [0, 1].
func (c *Client) RemoteAudioLevel() float64 {
	return c.manager.RemoteAudioLevel()
}

// Directory returns the user directory.
func (c *Client) Directory() *identity.Directory {
	return c.directory
}

// History returns the finished-call log.
func (c *Client) History() *av.CallHistory {
	return c.manager.History()
}

// Factory returns the signaling factory the client dials through.
func (c *Client) Factory() *factory.SignalingFactory {
	return c.factory
}

// Close ends any call, the broker session and the users file watch.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = multierr.Combine(
			c.manager.Close(),
			c.transport.Close(),
		)
		c.cancel()

		logrus.WithFields(logrus.Fields{
			"function": "Client.Close",
		}).Info("Call client closed")
	})
	return c.closeErr
}
