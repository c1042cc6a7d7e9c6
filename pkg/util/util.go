package util

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML file and unmarshals it into a struct of type T.
func LoadConfig[T any](filepath string) (*T, error) {
	// 1. Read the file
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// 2. Initialize an empty instance of T
	var config T

	// 3. Unmarshal the YAML data into the struct
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	logrus.Infof("Configuration loaded from %s", filepath)

	return &config, nil
}

// SendJSON marshals data and writes it as a single text message on conn.
func SendJSON(conn *websocket.Conn, data interface{}) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// ListenMulticastUDP opens a reusable UDP socket bound to bind ("host:port")
// and joins the given multicast group on the default interface. Multiple
// processes may listen on the same group concurrently.
func ListenMulticastUDP(bind, group string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("open multicast socket %s: %w", bind, err)
	}
	conn := pc.(*net.UDPConn)
	if err := ipv4.NewPacketConn(conn).JoinGroup(nil, &net.UDPAddr{IP: net.ParseIP(group)}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join multicast group %s: %w", group, err)
	}
	return conn, nil
}

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
