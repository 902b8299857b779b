package servicecall

import "context"

// Service methods understood by fleet devices.
const (
	MethodLiveStart        = "live_start"
	MethodLiveStop         = "live_stop"
	MethodLiveStatus       = "live_status"
	MethodLiveSetParams    = "live_set_params"
	MethodFileUploadList   = "fileupload_list"
	MethodFileUploadStart  = "fileupload_start"
	MethodFileUploadUpdate = "fileupload_update"
)

// LiveConfig is the data of a live_start call. Zero fields take the
// defaults applied by withDefaults.
type LiveConfig struct {
	LiveURL    string `json:"live_url,omitempty"`
	Resolution string `json:"resolution"`
	Bitrate    int    `json:"bitrate"`
	FPS        int    `json:"fps"`
	Quality    string `json:"quality"`
}

// LiveParams is the data of a live_set_params call.
type LiveParams struct {
	Resolution   string `json:"resolution"`
	Bitrate      int    `json:"bitrate"`
	FPS          int    `json:"fps"`
	Quality      string `json:"quality"`
	AudioEnabled bool   `json:"audio_enabled"`
}

const (
	defaultResolution = "1920x1080"
	defaultBitrate    = 2000
	defaultFPS        = 25
	defaultQuality    = "high"
)

func (c LiveConfig) withDefaults() LiveConfig {
	c.Resolution, c.Bitrate, c.FPS, c.Quality = streamDefaults(c.Resolution, c.Bitrate, c.FPS, c.Quality)
	return c
}

func (p LiveParams) withDefaults() LiveParams {
	p.Resolution, p.Bitrate, p.FPS, p.Quality = streamDefaults(p.Resolution, p.Bitrate, p.FPS, p.Quality)
	return p
}

func streamDefaults(resolution string, bitrate, fps int, quality string) (string, int, int, string) {
	if resolution == "" {
		resolution = defaultResolution
	}
	if bitrate <= 0 {
		bitrate = defaultBitrate
	}
	if fps <= 0 {
		fps = defaultFPS
	}
	if quality == "" {
		quality = defaultQuality
	}
	return resolution, bitrate, fps, quality
}

// liveStatusQoS is the QoS of the live_status subscription.
const liveStatusQoS = 1

// LiveStart asks target to start streaming and subscribes its live_status
// topic.
func (c *Correlator) LiveStart(ctx context.Context, s Session, target string, cfg LiveConfig, opts Options) (Call, error) {
	call, err := c.Call(ctx, s, target, MethodLiveStart, cfg.withDefaults(), opts)
	if err != nil {
		return Call{}, err
	}
	c.watchLiveStatus(ctx, s, target)
	return call, nil
}

// LiveStop asks target to stop streaming.
func (c *Correlator) LiveStop(ctx context.Context, s Session, target string, opts Options) (Call, error) {
	return c.Call(ctx, s, target, MethodLiveStop, nil, opts)
}

// LiveStatus asks target to report its stream state and subscribes its
// live_status topic.
func (c *Correlator) LiveStatus(ctx context.Context, s Session, target string, opts Options) (Call, error) {
	call, err := c.Call(ctx, s, target, MethodLiveStatus, nil, opts)
	if err != nil {
		return Call{}, err
	}
	c.watchLiveStatus(ctx, s, target)
	return call, nil
}

// watchLiveStatus subscribes the live_status topic of target. A failure is
// logged; the call has already been sent.
func (c *Correlator) watchLiveStatus(ctx context.Context, s Session, target string) {
	topic := c.topics.LiveStatus(target)
	if err := s.Subscribe(ctx, topic, liveStatusQoS); err != nil {
		c.logger.Warn("live status subscription failed", "topic", topic, "error", err)
	}
}

// LiveSetParams changes the parameters of a running stream.
func (c *Correlator) LiveSetParams(ctx context.Context, s Session, target string, params LiveParams, opts Options) (Call, error) {
	return c.Call(ctx, s, target, MethodLiveSetParams, params.withDefaults(), opts)
}

// FileUploadList asks target for the files it can upload, filtered by module.
func (c *Correlator) FileUploadList(ctx context.Context, s Session, target string, modules []string, opts Options) (Call, error) {
	if modules == nil {
		modules = []string{}
	}
	return c.Call(ctx, s, target, MethodFileUploadList, map[string]any{"module_list": modules}, opts)
}

// FileUploadStart asks target to begin uploading the described files.
func (c *Correlator) FileUploadStart(ctx context.Context, s Session, target string, data any, opts Options) (Call, error) {
	return c.Call(ctx, s, target, MethodFileUploadStart, data, opts)
}

// FileUploadUpdate sends an upload status change to target.
func (c *Correlator) FileUploadUpdate(ctx context.Context, s Session, target string, data any, opts Options) (Call, error) {
	return c.Call(ctx, s, target, MethodFileUploadUpdate, data, opts)
}
