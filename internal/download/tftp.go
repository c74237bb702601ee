package download

import (
	"context"
	"encoding/binary"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// tftpGet implements a minimal RFC 1350 read request, enough to retrieve
// a provisioning document or plugin when DHCP option 66 supplies a
// server hint.
func tftpGet(ctx context.Context, u *url.URL, dest string) error {
	addr := u.Host
	if !strings.Contains(addr, ":") {
		addr += ":69"
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &transientErr{err}
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return &transientErr{err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	path := strings.TrimPrefix(u.Path, "/")
	rrq := buildRRQ(path, "octet")
	if _, err := conn.Write(rrq); err != nil {
		return &transientErr{err}
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 516)
	expected := uint16(1)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return &transientErr{err}
		}
		if n < 4 {
			return errors.New("tftp: short packet")
		}
		opcode := binary.BigEndian.Uint16(buf[0:2])
		switch opcode {
		case 3: // DATA
			block := binary.BigEndian.Uint16(buf[2:4])
			if block != expected {
				return errors.Errorf("tftp: out-of-order block %d, expected %d", block, expected)
			}
			if _, err := out.Write(buf[4:n]); err != nil {
				return err
			}
			ack := []byte{0, 4, buf[2], buf[3]}
			if _, err := conn.Write(ack); err != nil {
				return &transientErr{err}
			}
			expected++
			if n-4 < 512 {
				return out.Sync()
			}
		case 5: // ERROR
			return errors.Errorf("tftp: server error %q", string(buf[4:n]))
		default:
			return errors.Errorf("tftp: unexpected opcode %d", opcode)
		}
	}
}

func buildRRQ(filename, mode string) []byte {
	var b []byte
	b = append(b, 0, 1)
	b = append(b, []byte(filename)...)
	b = append(b, 0)
	b = append(b, []byte(mode)...)
	b = append(b, 0)
	return b
}
