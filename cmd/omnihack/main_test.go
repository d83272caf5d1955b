package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/norasector/omnihack/pkg/omnihack/config"
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/omnihack/pkg/omnihack/device/file"
	"github.com/norasector/omnihack/pkg/omnihack/radio"
	"github.com/norasector/turbine-common/types"
)

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    cliArgs
		wantErr error
		wantRX  *radio.SubdevSpec
		wantTX  *radio.SubdevSpec
	}{
		{name: "no flags", args: cliArgs{Which: -1}},
		{name: "leftover arguments", args: cliArgs{Which: -1, Rest: []string{"extra", "args"}}, wantErr: radio.ErrUnrecognizedArguments},
		{name: "bad rx slot", args: cliArgs{Which: -1, RxSubdev: "C"}, wantErr: radio.ErrInvalidSubdevice},
		{name: "bad tx side", args: cliArgs{Which: -1, TxSubdev: "A:2"}, wantErr: radio.ErrInvalidSubdevice},
		{
			name:   "both subdevices",
			args:   cliArgs{Which: -1, RxSubdev: "B", TxSubdev: "A:1"},
			wantRX: &radio.SubdevSpec{Slot: 1, Side: 0},
			wantTX: &radio.SubdevSpec{Slot: 0, Side: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := config.Default()
			rx, tx, err := applyFlags(tt.args, &opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
				var rerr *radio.Error
				if !errors.As(err, &rerr) || !rerr.Fatal() {
					t.Errorf("error %v is not a fatal configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(rx, tt.wantRX) {
				t.Errorf("rx spec %+v, want %+v", rx, tt.wantRX)
			}
			if !reflect.DeepEqual(tx, tt.wantTX) {
				t.Errorf("tx spec %+v, want %+v", tx, tt.wantTX)
			}
		})
	}
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	opts := config.Default()
	opts.RX.Subdevice = "B"
	opts.TX.Index = 3

	args := cliArgs{Input: "in.cf32", Replay: "replay.cf32", Which: 1, RxSubdev: "A"}
	rx, tx, err := applyFlags(args, &opts)
	if err != nil {
		t.Fatal(err)
	}
	if opts.InputFile != "in.cf32" || opts.ReplayFile != "replay.cf32" {
		t.Errorf("files %q %q", opts.InputFile, opts.ReplayFile)
	}
	if opts.RX.Index != 1 || opts.TX.Index != 1 {
		t.Errorf("indexes rx %d tx %d", opts.RX.Index, opts.TX.Index)
	}
	if rx == nil || *rx != (radio.SubdevSpec{Slot: 0}) {
		t.Errorf("rx spec %+v", rx)
	}
	if tx != nil {
		t.Errorf("tx spec %+v, want none", tx)
	}
}

func TestApplyFlagsKeepsConfigSubdevice(t *testing.T) {
	opts := config.Default()
	opts.TX.Subdevice = "B:1"

	_, tx, err := applyFlags(cliArgs{Which: -1}, &opts)
	if err != nil {
		t.Fatal(err)
	}
	if tx == nil || *tx != (radio.SubdevSpec{Slot: 1, Side: 1}) {
		t.Errorf("tx spec %+v", tx)
	}
}

func TestFileTransmitter(t *testing.T) {
	opts := config.Default()
	opts.TX.Driver = config.DriverFile
	opts.TX.Path = filepath.Join(t.TempDir(), "tx.cf32")

	devs := &devices{opts: opts}
	defer devs.Close()
	tx, err := devs.transmitter()
	if err != nil {
		t.Fatal(err)
	}
	if id, err := tx.SubdeviceID(0, 0); err != nil || id != device.DBIDBasicTX {
		t.Errorf("SubdeviceID = %d, %v", id, err)
	}

	ch := make(chan *types.SegmentComplex64, 1)
	ch <- &types.SegmentComplex64{Data: []complex64{1 + 2i, 3 - 4i}}
	close(ch)
	if err := tx.Start(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	contents, err := os.ReadFile(opts.TX.Path)
	if err != nil {
		t.Fatal(err)
	}
	if got := file.DecodeCF32(contents); !reflect.DeepEqual(got, []complex64{1 + 2i, 3 - 4i}) {
		t.Errorf("capture %v", got)
	}
}
