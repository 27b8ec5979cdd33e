// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package find locates USB serial adapters (the Prologix GPIB controller,
// RS-232 converters for the spectrum analyzer) through sysfs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// SysfsRoot is where tty class links live on linux.
const SysfsRoot = "/sys"

type FilterFn func(*Usbtty) bool

// PrologixFilter matches the Prologix GPIB-USB controller.
func PrologixFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Prologix") || strings.Contains(ut.Prod, "Prologix")
}

// FTDIFilter matches any FTDI based converter, which most RS-232 cables are.
func FTDIFilter(ut *Usbtty) bool { return ut.IDv == "0403" }

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// Find searches for a usb serial device below the default sysfs root and
// returns its /dev path.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys(SysfsRoot, nil)
	if err != nil {
		return "", err
	}
	dev, err := pick(ttys, filter)
	if err != nil {
		return "", err
	}
	return "/dev/" + dev, nil
}

// pick narrows ttys with filter. The first device for which filter returns
// true is chosen; without a filter there must be exactly one device.
func pick(ttys Usbttys, filter FilterFn) (string, error) {
	if filter != nil {
		var matched Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				matched = Usbttys{ttys[i]}
				break
			}
		}
		ttys = matched
	}
	switch len(ttys) {
	case 0:
		return "", fmt.Errorf("no matching ttys found")
	case 1:
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys finds ttys on usb devices by following the links in
// <root>/class/tty. Problems with individual entries are logged and the
// entry is still reported with whatever was read.
func AllUsbTtys(root string, log *zap.Logger) (Usbttys, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var devs Usbttys
	sct := filepath.Join(root, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// /sys/class/tty/ttyACM0 ->
		// /sys/devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10/1-10:1.0/tty/ttyACM0
		path := filepath.Join(sct, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Warn("skipping tty", zap.String("path", path), zap.Error(err))
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		// device points at the usb interface; the usb device with the
		// descriptor files is one level up.
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Warn("usb tty lacks device link", zap.String("path", abs), zap.Error(err))
		}
		idP, idV, mfg, prod, serial, err := readUsbInfo(filepath.Dir(dev))
		if err != nil {
			log.Warn("reading usb info", zap.String("path", abs), zap.Error(err))
		}
		devs = append(devs, Usbtty{
			Dev:    e.Name(),
			Path:   abs,
			IDp:    idP,
			IDv:    idV,
			Mfg:    mfg,
			Prod:   prod,
			Serial: serial,
		})
	}
	return devs, nil
}

// reads prod and vendor ids, and mfg/product/serial strings
//
// returns last error encountered, ignoring os.ErrNotExist.
// errors do not prevent reading additional files or returning data collected.
func readUsbInfo(dev string) (idp, idv, mfg, prod, serial string, err error) {
	read := func(name string) string {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		return strings.TrimSpace(string(b))
	}
	idp = read("idProduct")
	idv = read("idVendor")
	mfg = read("manufacturer")
	prod = read("product")
	serial = read("serial")
	return idp, idv, mfg, prod, serial, err
}
