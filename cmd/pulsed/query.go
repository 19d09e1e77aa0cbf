package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jfreymuth/pulsed/proto"
)

func connect(opts *options) (*proto.Client, error) {
	c, err := proto.Connect(opts.server, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	err = c.Request(&proto.SetClientName{Props: proto.PropList{
		"application.name":           "pulsed",
		"application.process.binary": "pulsed",
	}}, &proto.SetClientNameReply{})
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func infoCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print information about a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			var info proto.GetServerInfoReply
			if err := c.Request(&proto.GetServerInfo{}, &info); err != nil {
				return err
			}
			var stat proto.StatReply
			if err := c.Request(&proto.Stat{}, &stat); err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), c.Version(), &info, &stat)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server string, defaults to $PULSE_SERVER")
	return cmd
}

func printInfo(out io.Writer, v proto.Version, info *proto.GetServerInfoReply, stat *proto.StatReply) {
	w := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
	fmt.Fprintf(w, "Server Name:\t%s\n", info.PackageName)
	fmt.Fprintf(w, "Server Version:\t%s\n", info.PackageVersion)
	fmt.Fprintf(w, "Protocol Version:\t%d\n", v.Version())
	fmt.Fprintf(w, "User Name:\t%s\n", info.Username)
	fmt.Fprintf(w, "Host Name:\t%s\n", info.Hostname)
	fmt.Fprintf(w, "Default Sample Specification:\t%s %dch %dHz\n",
		proto.FormatName(info.DefaultSampleSpec.Format), info.DefaultSampleSpec.Channels, info.DefaultSampleSpec.Rate)
	fmt.Fprintf(w, "Default Channel Map:\t%s\n", strings.Join(info.DefaultChannelMap.Names(), ","))
	fmt.Fprintf(w, "Default Sink:\t%s\n", info.DefaultSinkName)
	fmt.Fprintf(w, "Default Source:\t%s\n", info.DefaultSourceName)
	fmt.Fprintf(w, "Cookie:\t%04x:%04x\n", info.Cookie>>16, info.Cookie&0xffff)
	fmt.Fprintf(w, "Sample Cache:\t%d bytes\n", stat.SampleCacheSize)
	w.Flush()
}

type lister struct {
	request proto.RequestArgs
	reply   func() proto.Reply
	rows    func(proto.Reply) [][]string
}

var listers = map[string]lister{
	"sinks": {
		request: &proto.GetSinkInfoList{},
		reply:   func() proto.Reply { return &proto.GetSinkInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, s := range *r.(*proto.GetSinkInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(s.SinkIndex), s.SinkName, s.Device, mute(s.Mute)})
			}
			return rows
		},
	},
	"sources": {
		request: &proto.GetSourceInfoList{},
		reply:   func() proto.Reply { return &proto.GetSourceInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, s := range *r.(*proto.GetSourceInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(s.SourceIndex), s.SourceName, s.Device, mute(s.Mute)})
			}
			return rows
		},
	},
	"sink-inputs": {
		request: &proto.GetSinkInputInfoList{},
		reply:   func() proto.Reply { return &proto.GetSinkInputInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, s := range *r.(*proto.GetSinkInputInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(s.SinkInputIndex), s.MediaName, fmt.Sprint(s.SinkIndex), mute(s.Muted)})
			}
			return rows
		},
	},
	"source-outputs": {
		request: &proto.GetSourceOutputInfoList{},
		reply:   func() proto.Reply { return &proto.GetSourceOutputInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, s := range *r.(*proto.GetSourceOutputInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(s.SourceOutputIndex), s.MediaName, fmt.Sprint(s.SourceIndex), mute(s.Muted)})
			}
			return rows
		},
	},
	"clients": {
		request: &proto.GetClientInfoList{},
		reply:   func() proto.Reply { return &proto.GetClientInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, c := range *r.(*proto.GetClientInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(c.ClientIndex), c.Application, c.Driver})
			}
			return rows
		},
	},
	"modules": {
		request: &proto.GetModuleInfoList{},
		reply:   func() proto.Reply { return &proto.GetModuleInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, m := range *r.(*proto.GetModuleInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(m.ModuleIndex), m.ModuleName, m.ModuleArgs})
			}
			return rows
		},
	},
	"cards": {
		request: &proto.GetCardInfoList{},
		reply:   func() proto.Reply { return &proto.GetCardInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, c := range *r.(*proto.GetCardInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(c.CardIndex), c.CardName, c.ActiveProfileName})
			}
			return rows
		},
	},
	"samples": {
		request: &proto.GetSampleInfoList{},
		reply:   func() proto.Reply { return &proto.GetSampleInfoListReply{} },
		rows: func(r proto.Reply) [][]string {
			var rows [][]string
			for _, s := range *r.(*proto.GetSampleInfoListReply) {
				rows = append(rows, []string{fmt.Sprint(s.SampleIndex), s.SampleName, fmt.Sprintf("%d bytes", s.Length)})
			}
			return rows
		},
	},
}

func mute(m bool) string {
	if m {
		return "muted"
	}
	return ""
}

func listCommand(opts *options) *cobra.Command {
	kinds := make([]string, 0, len(listers))
	for k := range listers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	cmd := &cobra.Command{
		Use:       "list " + strings.Join(kinds, "|"),
		Short:     "List objects of a running server",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := listers[args[0]]
			c, err := connect(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			reply := l.reply()
			if err := c.Request(l.request, reply); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, row := range l.rows(reply) {
				fmt.Fprintln(w, strings.Join(row, "\t"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server string, defaults to $PULSE_SERVER")
	return cmd
}
