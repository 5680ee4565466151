package audio

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
)

// MPG123Player renders MP3 audio by shelling out to a platform-appropriate
// decoder/player pipeline, exactly as the original device did: mpg123 on
// most platforms, a madplay|aplay pipe on mips boards with no mpg123
// build. Grounded on original_source/alexa.py's response playback branch
// and original_source/alexa_device.py's play_mp3.
type MPG123Player struct {
	tonePath string
}

// NewMPG123Player builds a Player. tonePath is the MP3 file played,
// looped, for alert tones; it may be empty, in which case PlayTone is a
// silent no-op that just waits for stop.
func NewMPG123Player(tonePath string) *MPG123Player {
	return &MPG123Player{tonePath: tonePath}
}

// PlaySpeech decodes and plays mp3 synchronously, returning once
// playback finishes, fails, or ctx is canceled.
func (p *MPG123Player) PlaySpeech(ctx context.Context, mp3 []byte) error {
	cmd := playCommand(ctx, "-")
	cmd.Stdin = bytes.NewReader(mp3)
	return cmd.Run()
}

// PlayTone loops the configured tone file until stop closes. With no
// tone file configured it just waits.
func (p *MPG123Player) PlayTone(stop <-chan struct{}) {
	if p.tonePath == "" {
		<-stop
		return
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			playCommand(ctx, p.tonePath).Run()
			close(done)
		}()

		select {
		case <-stop:
			cancel()
			<-done
			return
		case <-done:
			cancel()
		}
	}
}

// playCommand builds the platform-specific player pipeline. arg is
// either "-" (read MP3 from stdin) or a file path.
func playCommand(ctx context.Context, arg string) *exec.Cmd {
	if runtime.GOARCH == "mips" {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", "madplay -o wave:- "+arg+" | aplay -M")
		return cmd
	}
	cmd := exec.CommandContext(ctx, "mpg123", "-q", arg)
	return cmd
}
