package main

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type dumpDirection int

const (
	dumpSend dumpDirection = iota
	dumpRecv
)

// netDump records every frame the session sends or receives into a pcap
// file so a session can be inspected offline in standard tooling. The frames
// are wrapped in synthetic Ethernet/IPv4/TCP packets; sequence numbers only
// count payload bytes per direction.
type netDump struct {
	mu      sync.Mutex
	file    *os.File
	writer  *pcapgo.Writer
	sentSeq uint32
	recvSeq uint32
}

var (
	dumpClientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dumpServerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	dumpClientIP  = net.IPv4(10, 0, 0, 1)
	dumpServerIP  = net.IPv4(10, 0, 0, 2)
)

const (
	dumpClientPort = 49152
	dumpServerPort = 10000
	dumpSnapLen    = 65536
)

// newNetDump opens the capture file and writes the pcap header.
func newNetDump(path string) (*netDump, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(dumpSnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &netDump{file: f, writer: w}, nil
}

// record appends one frame to the capture. A nil receiver is a no-op so the
// session can call it unconditionally.
func (d *netDump) record(dir dumpDirection, frame string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	eth := layers.Ethernet{
		SrcMAC:       dumpClientMAC,
		DstMAC:       dumpServerMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    dumpClientIP,
		DstIP:    dumpServerIP,
	}
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(dumpClientPort),
		DstPort: layers.TCPPort(dumpServerPort),
		Seq:     d.sentSeq,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	if dir == dumpRecv {
		eth.SrcMAC, eth.DstMAC = dumpServerMAC, dumpClientMAC
		ip.SrcIP, ip.DstIP = dumpServerIP, dumpClientIP
		tcp.SrcPort, tcp.DstPort = layers.TCPPort(dumpServerPort), layers.TCPPort(dumpClientPort)
		tcp.Seq = d.recvSeq
		d.recvSeq += uint32(len(frame))
	} else {
		d.sentSeq += uint32(len(frame))
	}
	tcp.SetNetworkLayerForChecksum(&ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(frame)); err != nil {
		logError("capture serialize: %v", err)
		return
	}
	data := buf.Bytes()
	info := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := d.writer.WritePacket(info, data); err != nil {
		logError("capture write: %v", err)
	}
}

// close flushes and closes the capture file.
func (d *netDump) close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
