// internal/audio/wav.go
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format 描述原始 PCM 数据的格式
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat Gemini TTS 输出的 PCM 格式：24kHz、16位、单声道
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

const wavHeaderSize = 44

// IsWAV 判断数据是否已经带有 RIFF/WAVE 头
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// EncodeWAV 为原始 PCM 数据加上 WAV 文件头
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return nil, fmt.Errorf("invalid pcm format: %+v", f)
	}

	blockAlign := f.Channels * f.BitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(f.BitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// Duration 估算 PCM 数据的播放时长（秒）
func Duration(pcmLen int, f Format) float64 {
	bytesPerSecond := f.SampleRate * f.Channels * f.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(pcmLen) / float64(bytesPerSecond)
}
