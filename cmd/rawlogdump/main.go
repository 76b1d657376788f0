// Command rawlogdump prints the records of a rawlog.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/k0kubun/pp"

	"github.com/lherman-cs/bag2rawlog/rawlog"
	"github.com/lherman-cs/bag2rawlog/record"
)

func main() {
	brief := flag.Bool("brief", false, "Print one line per record")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [--brief] <rawlog>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := dump(os.Stdout, flag.Arg(0), *brief); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dump(w io.Writer, path string, brief bool) error {
	r, err := rawlog.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	pp.ColoringEnabled = false

	counts := make(map[record.Kind]int)
	for i := 0; ; i++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		counts[rec.Kind()]++

		if brief {
			fmt.Fprintln(w, summarize(i, rec))
			continue
		}
		fmt.Fprintf(w, "#%d %s\n", i, rec.Kind())
		pp.Fprintln(w, rec)
	}

	for kind := record.KindPointCloud; kind <= record.KindRobotMovement; kind++ {
		if counts[kind] > 0 {
			fmt.Fprintf(w, "%s: %d\n", kind, counts[kind])
		}
	}
	return nil
}

func summarize(i int, rec record.Record) string {
	line := fmt.Sprintf("#%d %s %-14s %s", i, rec.Time().UTC().Format(time.RFC3339Nano), rec.Kind(), rec.SensorLabel())
	switch rec := rec.(type) {
	case *record.PointCloud:
		line += fmt.Sprintf(" points=%d", rec.Len())
	case *record.RangeScan2D:
		line += fmt.Sprintf(" rays=%d", len(rec.Ranges))
	case *record.RotatingScan:
		line += fmt.Sprintf(" %dx%d", rec.Rows, rec.Columns)
	case *record.RangeImage:
		line += fmt.Sprintf(" %dx%d", rec.Rows, rec.Columns)
	case *record.Image:
		line += fmt.Sprintf(" %dx%d %s", rec.Width, rec.Height, rec.Encoding)
	case *record.Odometry:
		line += fmt.Sprintf(" x=%.3f y=%.3f phi=%.3f", rec.Pose.X, rec.Pose.Y, rec.Pose.Phi)
	case *record.RobotMovement:
		line += fmt.Sprintf(" dx=%.3f dy=%.3f dz=%.3f dyaw=%.3f", rec.Delta.X, rec.Delta.Y, rec.Delta.Z, rec.Delta.Yaw)
	}
	return line
}
