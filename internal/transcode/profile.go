package transcode

// Profile is a fixed set of encode parameters passed verbatim to the encoder.
type Profile struct {
	Name         string
	VideoCodec   string
	VideoBitrate string
	AudioCodec   string
	AudioBitrate string
	Container    string
	ExtraArgs    []string
}

// DefaultProfile produces progressive-download MP4 that every browser plays:
// H.264 baseline with AAC audio and the moov atom at the front.
var DefaultProfile = Profile{
	Name:         "web",
	VideoCodec:   "libx264",
	VideoBitrate: "1000k",
	AudioCodec:   "aac",
	AudioBitrate: "128k",
	Container:    "mp4",
	ExtraArgs: []string{
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	},
}

// Args returns the encoder arguments between the input and the output path.
func (p Profile) Args() []string {
	args := make([]string, 0, 10+len(p.ExtraArgs))
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.AudioCodec != "" {
		args = append(args, "-c:a", p.AudioCodec)
	}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	args = append(args, p.ExtraArgs...)
	if p.Container != "" {
		args = append(args, "-f", p.Container)
	}
	return args
}
