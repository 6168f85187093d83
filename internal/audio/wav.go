package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes int16 PCM into file as a 16-bit WAV.
func WriteWAV(file *os.File, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not 16-bit aligned")
	}
	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteTempWAV writes PCM into a temp file and returns its path. The caller
// removes the file.
func WriteTempWAV(pcm []byte, sampleRate, channels int) (string, error) {
	file, err := os.CreateTemp(os.TempDir(), "whisperd_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer file.Close()

	if err := WriteWAV(file, pcm, sampleRate, channels); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

// ReadWAV decodes a 16-bit WAV file into int16 PCM.
func ReadWAV(path string) (pcm []byte, sampleRate, channels int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil {
		return nil, 0, 0, fmt.Errorf("wav missing format chunk")
	}
	if dec.BitDepth != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}

	pcm = make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm, buf.Format.SampleRate, buf.Format.NumChannels, nil
}
