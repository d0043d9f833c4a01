package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

const ffmpegBackend = "ffmpeg"

// FFmpeg pipes the encoded buffer through an ffmpeg process and collects the
// raw s16le output from stdout.
type FFmpeg struct {
	cmd []string
}

// NewFFmpeg parses command (for example "ffmpeg -hide_banner -loglevel error")
// as the program and leading arguments.
func NewFFmpeg(command string) (*FFmpeg, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcoder command empty")
	}
	return &FFmpeg{cmd: args}, nil
}

func (f *FFmpeg) args(targetRate int) []string {
	args := append([]string{}, f.cmd[1:]...)
	return append(args,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(targetRate),
		"pipe:1",
	)
}

func (f *FFmpeg) Transcode(ctx context.Context, data []byte, targetRate int) ([]byte, error) {
	if len(data) == 0 {
		return nil, newError(ffmpegBackend, KindMalformed, ErrEmptyInput)
	}
	if targetRate <= 0 {
		return nil, newError(ffmpegBackend, KindConversion, fmt.Errorf("invalid target rate %d", targetRate))
	}

	command := exec.CommandContext(ctx, f.cmd[0], f.args(targetRate)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdin = bytes.NewReader(data)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(ffmpegBackend, KindConversion, ctxErr)
		}
		return nil, newError(ffmpegBackend, classifyStderr(stderr.String()), fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	pcm := stdout.Bytes()
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

func classifyStderr(stderr string) Kind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "invalid data found"):
		return KindMalformed
	case strings.Contains(lower, "unknown decoder"), strings.Contains(lower, "decoder not found"), strings.Contains(lower, "unsupported codec"):
		return KindUnsupported
	default:
		return KindConversion
	}
}

// Available checks that the configured binary can be found on PATH.
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.cmd[0]); err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}
	return nil
}
