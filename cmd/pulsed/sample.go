package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/jfreymuth/pulsed/proto"
)

const uploadChunk = 64 * 1024

// wavSample is a decoded WAV file in a wire sample format.
type wavSample struct {
	ss    proto.SampleSpec
	chmap proto.ChannelMap
	data  []byte
}

func readWAV(path string) (*wavSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	if d.NumChans == 0 || d.NumChans > proto.ChannelsMax {
		return nil, fmt.Errorf("unsupported number of channels: %d", d.NumChans)
	}
	var format byte
	switch d.BitDepth {
	case 8:
		format = proto.FormatUint8
	case 16:
		format = proto.FormatInt16LE
	case 24:
		format = proto.FormatInt24LE
	case 32:
		format = proto.FormatInt32LE
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	s := &wavSample{
		ss:    proto.SampleSpec{Format: format, Channels: byte(d.NumChans), Rate: d.SampleRate},
		chmap: proto.DefaultChannelMap(int(d.NumChans)),
	}
	s.data = encodePCM(buf, int(d.BitDepth))
	return s, nil
}

// encodePCM packs decoded integer samples little endian with the given
// bit depth. 8 bit WAV data is unsigned.
func encodePCM(buf *audio.IntBuffer, depth int) []byte {
	width := depth / 8
	out := make([]byte, len(buf.Data)*width)
	for i, v := range buf.Data {
		b := out[i*width:]
		switch depth {
		case 8:
			b[0] = byte(v)
		case 16:
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		case 24:
			b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
		case 32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		}
	}
	return out
}

func uploadSampleCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload-sample FILE [NAME]",
		Short: "Upload a WAV file into the sample cache",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			if len(args) > 1 {
				name = args[1]
			}
			s, err := readWAV(args[0])
			if err != nil {
				return err
			}
			c, err := connect(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			return uploadSample(c, name, s)
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server string, defaults to $PULSE_SERVER")
	return cmd
}

func uploadSample(c *proto.Client, name string, s *wavSample) error {
	var up proto.CreateUploadStreamReply
	err := c.Request(&proto.CreateUploadStream{
		Name:       name,
		SampleSpec: s.ss,
		ChannelMap: s.chmap,
		Length:     uint32(len(s.data)),
		Properties: proto.PropList{"event.id": name, "media.name": name},
	}, &up)
	if err != nil {
		return fmt.Errorf("creating upload stream: %w", err)
	}
	for data := s.data; len(data) > 0; {
		n := min(len(data), uploadChunk)
		if err := c.Send(up.StreamIndex, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return c.Request(&proto.FinishUploadStream{StreamIndex: up.StreamIndex}, nil)
}

func playSampleCommand(opts *options) *cobra.Command {
	var sink string
	cmd := &cobra.Command{
		Use:   "play-sample NAME",
		Short: "Play a sample from the sample cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			var reply proto.PlaySampleReply
			err = c.Request(&proto.PlaySample{
				SinkIndex:  proto.Undefined,
				SinkName:   sink,
				Volume:     proto.Undefined,
				Name:       args[0],
				Properties: proto.PropList{},
			}, &reply)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sink input #%d\n", reply.SinkInputIndex)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server string, defaults to $PULSE_SERVER")
	cmd.Flags().StringVar(&sink, "sink", "", "sink to play on, defaults to the default sink")
	return cmd
}

func removeSampleCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-sample NAME",
		Short: "Remove a sample from the sample cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Request(&proto.RemoveSample{Name: args[0]}, nil)
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server string, defaults to $PULSE_SERVER")
	return cmd
}
