// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build integration

package rtu

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/modbus"
	rtupacket "github.com/ffutop/relayctl/modbus/rtu"
	"github.com/ffutop/relayctl/transport/serialport"
)

// startBus links two ptys with socat and serves an RTU slave on one end.
// It returns the master end.
func startBus(t *testing.T) (string, *mbserver.Server) {
	t.Helper()
	if _, err := exec.LookPath("socat"); err != nil {
		t.Skip("socat not installed")
	}

	dir := t.TempDir()
	master := filepath.Join(dir, "pts0")
	slave := filepath.Join(dir, "pts1")
	socat := exec.Command("socat",
		"pty,raw,echo=0,link="+master,
		"pty,raw,echo=0,link="+slave,
	)
	require.NoError(t, socat.Start())
	t.Cleanup(func() {
		_ = socat.Process.Kill()
		_ = socat.Wait()
	})

	require.Eventually(t, func() bool {
		_, err1 := os.Stat(master)
		_, err2 := os.Stat(slave)
		return err1 == nil && err2 == nil
	}, 3*time.Second, 20*time.Millisecond, "socat did not create the pty pair")

	server := mbserver.NewServer()
	server.HoldingRegisters[0x2000] = 2
	server.HoldingRegisters[0x2001] = 0xBEEF
	require.NoError(t, server.ListenRTU(&serial.Config{
		Address:  slave,
		BaudRate: 19200,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
		Timeout:  time.Second,
	}))
	t.Cleanup(server.Close)
	return master, server
}

func TestIntegration_Drivers(t *testing.T) {
	for _, driver := range []string{serialport.DriverGridx, serialport.DriverBugst} {
		t.Run(driver, func(t *testing.T) {
			device, server := startBus(t)

			port, err := serialport.Open(config.SerialConfig{
				Driver:       driver,
				Device:       device,
				BaudRate:     19200,
				DataBits:     8,
				Parity:       "N",
				StopBits:     1,
				PollInterval: 10 * time.Millisecond,
			})
			require.NoError(t, err)
			defer port.Close()

			client := NewClient(port, WithTimeout(time.Second), WithBaudRate(19200))
			ctx := context.Background()

			_, err = client.Exchange(ctx, 1, modbus.FuncCodeWriteSingleCoil, rtupacket.WriteCoilPayload(0x0910, true))
			require.NoError(t, err)
			assert.Equal(t, byte(1), server.Coils[0x0910])

			_, err = client.Exchange(ctx, 1, modbus.FuncCodeWriteSingleCoil, rtupacket.WriteCoilPayload(0x0910, false))
			require.NoError(t, err)
			assert.Equal(t, byte(0), server.Coils[0x0910])

			req := rtupacket.ReadRequest{Address: 1, Start: 0x2000, Count: 2}
			payload, err := client.Exchange(ctx, req.Address, modbus.FuncCodeReadHoldingRegisters, req.Payload())
			require.NoError(t, err)
			resp, err := rtupacket.ParseReadResponse(req, payload)
			require.NoError(t, err)
			assert.Equal(t, []uint16{2, 0xBEEF}, resp.Values)
		})
	}
}
