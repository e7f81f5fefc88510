package ffwork

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Concat 无损拼接多个视频，输入需使用相同编码参数
func (r *Runner) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("concat: no inputs")
	}
	list, cleanup, err := writeConcatList(inputs, 0)
	if err != nil {
		return err
	}
	defer cleanup()
	return r.Run(ctx, "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", "-movflags", "+faststart", output)
}

// ConcatEncode 拼接并重新编码，输入的编码参数、帧率或尺寸不一致时使用
// fps 统一输出帧率，width/height 为 0 时保持原尺寸
func (r *Runner) ConcatEncode(ctx context.Context, inputs []string, output string, fps, width, height int) error {
	if len(inputs) == 0 {
		return errors.New("concat encode: no inputs")
	}
	if fps <= 0 {
		fps = 1
	}
	list, cleanup, err := writeConcatList(inputs, 0)
	if err != nil {
		return err
	}
	defer cleanup()
	args := []string{
		"-f", "concat", "-safe", "0", "-i", list,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
	}
	args = append(args, scaleArgs(width, height)...)
	args = append(args, "-an", "-movflags", "+faststart", output)
	return r.Run(ctx, args...)
}

// ReduceBitrate 重新编码为低码率版本
func (r *Runner) ReduceBitrate(ctx context.Context, input, output string, kbps int) error {
	if kbps <= 0 {
		return fmt.Errorf("reduce bitrate: invalid kbps %d", kbps)
	}
	rate := strconv.Itoa(kbps) + "k"
	buf := strconv.Itoa(kbps*2) + "k"
	return r.Run(ctx, "-i", input,
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", rate, "-maxrate", rate, "-bufsize", buf,
		"-pix_fmt", "yuv420p", "-an", "-movflags", "+faststart", output)
}

// StillToVideo 单帧图片生成固定时长视频，width/height 为 0 时保持原尺寸
func (r *Runner) StillToVideo(ctx context.Context, image, output string, d time.Duration, width, height int) error {
	if d <= 0 {
		return fmt.Errorf("still to video: invalid duration %s", d)
	}
	args := []string{
		"-loop", "1", "-framerate", "1", "-i", image,
		"-t", seconds(d), "-r", "1",
		"-c:v", "libx264", "-tune", "stillimage", "-pix_fmt", "yuv420p",
	}
	args = append(args, scaleArgs(width, height)...)
	args = append(args, "-an", "-movflags", "+faststart", output)
	return r.Run(ctx, args...)
}

// Trim 截取前 max 时长
func (r *Runner) Trim(ctx context.Context, input, output string, max time.Duration) error {
	if max <= 0 {
		return fmt.Errorf("trim: invalid duration %s", max)
	}
	return r.Run(ctx, "-i", input, "-t", seconds(max), "-c", "copy", "-movflags", "+faststart", output)
}

// Transcode 旧格式（如 avi）转为 h264 mp4
func (r *Runner) Transcode(ctx context.Context, input, output string) error {
	return r.Run(ctx, "-i", input,
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-an", "-movflags", "+faststart", output)
}

// ImagesToVideo 按顺序把图片合成为视频，每帧时长 1/fps
func (r *Runner) ImagesToVideo(ctx context.Context, images []string, output string, fps, width, height int) error {
	if len(images) == 0 {
		return errors.New("images to video: no inputs")
	}
	if fps <= 0 {
		fps = 1
	}
	list, cleanup, err := writeConcatList(images, time.Second/time.Duration(fps))
	if err != nil {
		return err
	}
	defer cleanup()
	args := []string{
		"-f", "concat", "-safe", "0", "-i", list,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
	}
	args = append(args, scaleArgs(width, height)...)
	args = append(args, "-an", "-movflags", "+faststart", output)
	return r.Run(ctx, args...)
}

// ConcatList concat demuxer 列表内容，frame 大于 0 时为每一项写入 duration
func ConcatList(inputs []string, frame time.Duration) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
		if frame > 0 {
			fmt.Fprintf(&b, "duration %s\n", seconds(frame))
		}
	}
	// 图片序列最后一帧需要重复一次，否则其时长被忽略
	if frame > 0 {
		abs, err := filepath.Abs(inputs[len(inputs)-1])
		if err != nil {
			abs = inputs[len(inputs)-1]
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return b.String()
}

func writeConcatList(inputs []string, frame time.Duration) (string, func(), error) {
	f, err := os.CreateTemp("", "ffconcat-*.txt")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(ConcatList(inputs, frame)); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

func scaleArgs(width, height int) []string {
	if width <= 0 || height <= 0 {
		return nil
	}
	// libx264 要求偶数尺寸
	return []string{"-vf", fmt.Sprintf("scale=%d:%d", width&^1, height&^1)}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
