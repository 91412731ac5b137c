/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gps

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches most u-blox style receivers out of the box.
const DefaultBaudRate = 9600

// readDeadline bounds how long we wait for a usable NMEA sentence.
const readDeadline = 3 * time.Second

// Serial reads NMEA sentences from a GPS receiver on a serial device
// and converts RMC fixes into GPS week/seconds.
type Serial struct {
	Device string
	Baud   int
}

// NewSerial returns a source reading from the given device.
func NewSerial(device string, baud int) *Serial {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &Serial{Device: device, Baud: baud}
}

// TimeData opens the device and waits for the next valid RMC sentence.
func (s *Serial) TimeData(ctx context.Context) (*Data, error) {
	port, err := serial.Open(s.Device, &serial.Mode{BaudRate: s.Baud})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Device, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(readDeadline); err != nil {
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	scanner := bufio.NewScanner(port)
	deadline := time.Now().Add(readDeadline)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			break
		}
		fix, err := parseRMC(strings.TrimSpace(scanner.Text()))
		if err != nil {
			continue
		}
		week, seconds := WeekSeconds(fix)
		return &Data{Week: week, Seconds: seconds}, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Device, err)
	}
	return nil, fmt.Errorf("no RMC fix from %s within %s", s.Device, readDeadline)
}

// parseRMC extracts the UTC instant from a $xxRMC sentence.
// Example: $GPRMC,123519.00,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*44
func parseRMC(line string) (time.Time, error) {
	if !strings.HasPrefix(line, "$") {
		return time.Time{}, fmt.Errorf("not a sentence: %q", line)
	}
	body, sum, found := strings.Cut(line[1:], "*")
	if found {
		if err := verifyChecksum(body, sum); err != nil {
			return time.Time{}, err
		}
	}
	fields := strings.Split(body, ",")
	if len(fields) < 10 || !strings.HasSuffix(fields[0], "RMC") {
		return time.Time{}, fmt.Errorf("not an RMC sentence: %q", line)
	}
	if fields[2] != "A" {
		return time.Time{}, fmt.Errorf("fix not valid: %q", line)
	}
	return parseRMCTime(fields[1], fields[9])
}

func parseRMCTime(hms, dmy string) (time.Time, error) {
	if len(hms) < 6 || len(dmy) != 6 {
		return time.Time{}, fmt.Errorf("malformed time fields %q %q", hms, dmy)
	}
	hour, err1 := strconv.Atoi(hms[0:2])
	minute, err2 := strconv.Atoi(hms[2:4])
	sec, err3 := strconv.ParseFloat(hms[4:], 64)
	day, err4 := strconv.Atoi(dmy[0:2])
	month, err5 := strconv.Atoi(dmy[2:4])
	year, err6 := strconv.Atoi(dmy[4:6])
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed time fields %q %q", hms, dmy)
		}
	}
	nsec := int((sec - float64(int(sec))) * 1e9)
	return time.Date(2000+year, time.Month(month), day, hour, minute, int(sec), nsec, time.UTC), nil
}

func verifyChecksum(body, sum string) error {
	want, err := strconv.ParseUint(strings.TrimSpace(sum), 16, 8)
	if err != nil {
		return fmt.Errorf("malformed checksum %q", sum)
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != byte(want) {
		return fmt.Errorf("checksum mismatch: got %02X want %02X", got, byte(want))
	}
	return nil
}

var _ Source = (*Serial)(nil)
