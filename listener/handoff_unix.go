//go:build linux || darwin

package listener

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// HandoffRecord is the application-layer record sent alongside the
// SCM_RIGHTS ancillary data (§6 "cross-process handoff"): a monotonic
// version byte, a server-instance handle, a type-signature string, the
// local-process handle, serialized socket options, and the remote peer's
// IP and port.
type HandoffRecord struct {
	Version       byte
	ServerHandle  uint64
	TypeSignature string
	ProcessHandle uint64
	SocketOptions []byte
	RemoteIP      net.IP
	RemotePort    uint16
}

const handoffVersion = 1

// SendSocket passes conn's file descriptor to the process listening on
// ctrl via SCM_RIGHTS, preceded by rec serialized as the application-layer
// record. ctrl must be a *net.UnixConn dialed to the sibling's control
// socket.
func SendSocket(ctrl *net.UnixConn, conn *net.TCPConn, rec HandoffRecord) error {
	file, err := conn.File()
	if err != nil {
		return fmt.Errorf("listener: could not extract fd: %w", err)
	}
	defer file.Close()

	payload := encodeRecord(rec)
	rights := unix.UnixRights(int(file.Fd()))
	_, _, err = ctrl.WriteMsgUnix(payload, rights, nil)
	if err != nil {
		return fmt.Errorf("listener: could not send fd over control socket: %w", err)
	}
	return nil
}

// ReceiveSocket reads one handed-off descriptor plus its HandoffRecord
// from ctrl and reconstructs a net.Conn the receiving process can inject
// at the same point its own acceptor would (§4.5 "sibling variant").
func ReceiveSocket(ctrl *net.UnixConn) (net.Conn, HandoffRecord, error) {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := ctrl.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, HandoffRecord{}, fmt.Errorf("listener: could not read control message: %w", err)
	}
	rec, err := decodeRecord(buf[:n])
	if err != nil {
		return nil, HandoffRecord{}, err
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, HandoffRecord{}, fmt.Errorf("listener: could not parse control message: %w", err)
	}
	if len(msgs) == 0 {
		return nil, HandoffRecord{}, fmt.Errorf("listener: control message carried no ancillary data")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) == 0 {
		return nil, HandoffRecord{}, fmt.Errorf("listener: could not recover handed-off descriptor: %w", err)
	}
	file := os.NewFile(uintptr(fds[0]), "handoff-socket")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, HandoffRecord{}, fmt.Errorf("listener: could not reconstruct conn from fd: %w", err)
	}
	return conn, rec, nil
}

func encodeRecord(rec HandoffRecord) []byte {
	var buf []byte
	buf = append(buf, handoffVersion)
	var handleBuf [8]byte
	binary.BigEndian.PutUint64(handleBuf[:], rec.ServerHandle)
	buf = append(buf, handleBuf[:]...)
	sig := []byte(rec.TypeSignature)
	buf = append(buf, byte(len(sig)))
	buf = append(buf, sig...)
	binary.BigEndian.PutUint64(handleBuf[:], rec.ProcessHandle)
	buf = append(buf, handleBuf[:]...)
	buf = append(buf, byte(len(rec.SocketOptions)))
	buf = append(buf, rec.SocketOptions...)
	ip4 := rec.RemoteIP.To4()
	if ip4 == nil {
		ip4 = make([]byte, 4)
	}
	buf = append(buf, ip4...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], rec.RemotePort)
	buf = append(buf, portBuf[:]...)
	return buf
}

func decodeRecord(raw []byte) (HandoffRecord, error) {
	if len(raw) < 1+8+1 {
		return HandoffRecord{}, fmt.Errorf("listener: handoff record too short")
	}
	rec := HandoffRecord{Version: raw[0]}
	pos := 1
	rec.ServerHandle = binary.BigEndian.Uint64(raw[pos:])
	pos += 8
	sigLen := int(raw[pos])
	pos++
	rec.TypeSignature = string(raw[pos : pos+sigLen])
	pos += sigLen
	rec.ProcessHandle = binary.BigEndian.Uint64(raw[pos:])
	pos += 8
	optLen := int(raw[pos])
	pos++
	rec.SocketOptions = append([]byte(nil), raw[pos:pos+optLen]...)
	pos += optLen
	rec.RemoteIP = net.IP(append([]byte(nil), raw[pos:pos+4]...))
	pos += 4
	rec.RemotePort = binary.BigEndian.Uint16(raw[pos:])
	return rec, nil
}
