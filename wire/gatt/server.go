package gatt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/advertising"
	"github.com/user/attendance-ping/wire/att"
	"github.com/user/attendance-ping/wire/debug"
	"github.com/user/attendance-ping/wire/l2cap"
)

// DefaultStartDelay approximates how long the radio stack takes to report
// an advertise result
const DefaultStartDelay = 10 * time.Millisecond

// WriteHandler receives a characteristic value written by a remote device.
// For Write Requests it runs after the Write Response has been sent.
type WriteHandler func(remoteAddress string, value []byte)

// ServerOptions tune the simulated stack
type ServerOptions struct {
	IncludeDeviceName bool          // put the adapter name in the advertisement
	StartDelay        time.Duration // delay before the advertise result fires
	MTU               int           // server receive MTU, 0 means att.MaxMTU
	PacketTrace       bool          // append every frame to the device's debug dir
}

// DefaultServerOptions mirrors a typical phone stack
func DefaultServerOptions() ServerOptions {
	return ServerOptions{StartDelay: DefaultStartDelay, MTU: att.MaxMTU}
}

// Server is a GATT server exposing one write-only characteristic while it
// advertises the owning service.
type Server struct {
	adapter *wire.Adapter
	opts    ServerOptions
	tracer  *debug.Tracer

	mu          sync.Mutex
	state       AdvertiseState
	failure     AdvertiseFailure
	gen         uint64
	handler     WriteHandler
	db          *AttributeDatabase
	valueHandle uint16
	ln          net.Listener
	socketPath  string
	holdsSlot   bool
	links       map[net.Conn]struct{}

	wg sync.WaitGroup
}

func NewServer(adapter *wire.Adapter, opts ServerOptions) *Server {
	if opts.MTU <= 0 || opts.MTU > att.MaxMTU {
		opts.MTU = att.MaxMTU
	}
	if opts.MTU < att.DefaultMTU {
		opts.MTU = att.DefaultMTU
	}
	return &Server{
		adapter: adapter,
		opts:    opts,
		tracer:  debug.NewTracer(adapter.HardwareUUID(), opts.PacketTrace),
		links:   make(map[net.Conn]struct{}),
	}
}

// OnWrite installs the handler for characteristic writes
func (s *Server) OnWrite(h WriteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// State returns the advertising state and, when Failed, the failure code
func (s *Server) State() (AdvertiseState, AdvertiseFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.failure
}

// Advertise declares the service, opens the GATT listener and starts
// broadcasting. The returned channel receives exactly one result, after the
// stack delay; callers must not assume it arrives before Advertise returns.
func (s *Server) Advertise(serviceUUID, charUUID uuid.UUID) <-chan AdvertiseResult {
	result := make(chan AdvertiseResult, 1)

	if !s.adapter.SupportsLE() {
		result <- AdvertiseResult{Err: ErrNoRadioSupport}
		return result
	}

	s.mu.Lock()
	if s.state == StateStarting || s.state == StateAdvertising {
		s.mu.Unlock()
		go func() {
			time.Sleep(s.opts.StartDelay)
			result <- AdvertiseResult{Failure: FailureAlreadyStarted}
		}()
		return result
	}
	s.state = StateStarting
	s.failure = FailureNone
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		time.Sleep(s.opts.StartDelay)
		failure, err := s.start(gen, serviceUUID, charUUID)
		result <- AdvertiseResult{Failure: failure, Err: err}
	}()
	return result
}

func (s *Server) start(gen uint64, serviceUUID, charUUID uuid.UUID) (AdvertiseFailure, error) {
	caps := s.adapter.Capabilities()
	if caps.AdvertiseFaultCode != 0 {
		return s.fail(gen, AdvertiseFailure(caps.AdvertiseFaultCode), nil)
	}
	if !caps.MultipleAdvertisement {
		return s.fail(gen, FailureFeatureUnsupported, nil)
	}

	advData, err := s.advertisementData(serviceUUID)
	if err != nil {
		return s.fail(gen, FailureDataTooLarge, err)
	}
	if !s.adapter.AcquireAdvertiser() {
		return s.fail(gen, FailureTooManyAdvertisers, nil)
	}

	db, valueHandle := BuildWriteOnlyService(serviceUUID, charUUID)

	address := s.adapter.Address()
	socketPath := util.SocketPath("gatt", address)
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		s.adapter.ReleaseAdvertiser()
		return s.fail(gen, FailureInternalError, err)
	}

	rec := &advertising.Record{
		HardwareUUID: s.adapter.HardwareUUID(),
		Address:      address,
		AdvData:      advData,
		Connectable:  true,
		UpdatedAt:    time.Now(),
	}
	if err := advertising.Publish(rec); err != nil {
		ln.Close()
		os.Remove(socketPath)
		s.adapter.ReleaseAdvertiser()
		return s.fail(gen, FailureInternalError, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateStarting {
		s.mu.Unlock()
		ln.Close()
		os.Remove(socketPath)
		advertising.Withdraw(address)
		s.adapter.ReleaseAdvertiser()
		return FailureNone, ErrStopped
	}
	s.db = db
	s.valueHandle = valueHandle
	s.ln = ln
	s.socketPath = socketPath
	s.holdsSlot = true
	s.state = StateAdvertising
	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.mu.Unlock()

	logger.Debug(s.tag(), "📡 Advertising service %s (characteristic handle 0x%04X)", serviceUUID, valueHandle)
	return FailureNone, nil
}

func (s *Server) fail(gen uint64, f AdvertiseFailure, err error) (AdvertiseFailure, error) {
	s.mu.Lock()
	if s.gen == gen && s.state == StateStarting {
		s.state = StateFailed
		s.failure = f
	}
	s.mu.Unlock()
	if err != nil {
		logger.Warn(s.tag(), "❌ Advertise failed: %s: %v", f, err)
	} else {
		logger.Warn(s.tag(), "❌ Advertise failed: %s", f)
	}
	return f, err
}

func (s *Server) advertisementData(serviceUUID uuid.UUID) ([]byte, error) {
	structures := []advertising.ADStructure{
		advertising.NewFlagsAD(advertising.FlagLEGeneralDiscoverableMode | advertising.FlagBREDRNotSupported),
		advertising.NewComplete128BitServiceUUIDsAD(serviceUUID),
	}
	if s.opts.IncludeDeviceName {
		structures = append(structures, advertising.NewCompleteLocalNameAD(s.adapter.Name()))
	}
	return advertising.EncodeADStructures(structures)
}

// StopAdvertising withdraws the advertisement, closes the listener and drops
// every live link. Safe to call in any state and more than once. Handlers
// already running are not interrupted; use Wait to block on them.
func (s *Server) StopAdvertising() error {
	s.mu.Lock()
	s.gen++
	prev := s.state
	s.state = StateStopped
	ln := s.ln
	s.ln = nil
	socketPath := s.socketPath
	holdsSlot := s.holdsSlot
	s.holdsSlot = false
	links := s.links
	s.links = make(map[net.Conn]struct{})
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
		os.Remove(socketPath)
		if err := advertising.Withdraw(s.adapter.Address()); err != nil {
			logger.Warn(s.tag(), "⚠️  Failed to withdraw advertisement: %v", err)
		}
	}
	for nc := range links {
		nc.Close()
	}
	if holdsSlot {
		s.adapter.ReleaseAdvertiser()
	}
	if prev == StateAdvertising {
		logger.Debug(s.tag(), "🛑 Advertising stopped")
	}
	return nil
}

// Wait blocks until the accept loop and every link goroutine have exited
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			current := s.ln == ln
			s.mu.Unlock()
			if current {
				logger.Warn(s.tag(), "❌ GATT accept failed: %v", err)
			}
			return
		}

		s.mu.Lock()
		if s.ln != ln {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.links[nc] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serveLink(nc)
	}
}

type serverLink struct {
	nc            net.Conn
	remoteAddress string
	mtu           int
}

func (s *Server) serveLink(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		nc.Close()
		s.mu.Lock()
		delete(s.links, nc)
		s.mu.Unlock()
	}()

	l := &serverLink{nc: nc, mtu: att.DefaultMTU}
	for {
		pkt, err := l2cap.ReadPacket(nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Trace(s.tag(), "⚠️  Link %s ended: %v", l.remoteAddress, err)
			}
			return
		}
		s.tracer.L2CAP(debug.RX, l.remoteAddress, pkt)

		switch pkt.ChannelID {
		case l2cap.ChannelLESignal:
			l.remoteAddress = wire.AddressFromUUID(string(pkt.Payload))
			logger.Trace(s.tag(), "🔗 Central %s connected", l.remoteAddress)
		case l2cap.ChannelATT:
			if err := s.handlePDU(l, pkt.Payload); err != nil {
				logger.Trace(s.tag(), "⚠️  Failed to answer %s: %v", l.remoteAddress, err)
				return
			}
		}
	}
}

func (s *Server) handlePDU(l *serverLink, data []byte) error {
	opcode := att.Opcode(data)
	decoded, err := att.DecodePacket(data)
	if err != nil {
		var attErr *att.Error
		if errors.As(err, &attErr) && opcode != att.OpWriteCommand {
			return s.sendError(l, opcode, 0, attErr.Code)
		}
		logger.Trace(s.tag(), "⚠️  Dropping malformed PDU from %s: %v", l.remoteAddress, err)
		return nil
	}

	switch p := decoded.(type) {
	case *att.ExchangeMTURequest:
		l.mtu = int(p.ClientRxMTU)
		if l.mtu > s.opts.MTU {
			l.mtu = s.opts.MTU
		}
		if l.mtu < att.DefaultMTU {
			l.mtu = att.DefaultMTU
		}
		return s.send(l, &att.ExchangeMTUResponse{ServerRxMTU: uint16(s.opts.MTU)})

	case *att.ReadByTypeRequest:
		db, _ := s.table()
		found := db.FindByType(p.StartHandle, p.EndHandle, p.Type)
		if len(found) == 0 {
			return s.sendError(l, att.OpReadByTypeRequest, p.StartHandle, att.ErrAttributeNotFound)
		}
		// Values of write-only attributes are never exposed, so records are handle-only
		data := make([]byte, 0, 2*len(found))
		for _, a := range found {
			data = append(data, byte(a.Handle), byte(a.Handle>>8))
		}
		return s.send(l, &att.ReadByTypeResponse{Length: 2, AttributeData: data})

	case *att.WriteRequest:
		if code := s.checkWrite(l, p.Handle, p.Value); code != 0 {
			return s.sendError(l, att.OpWriteRequest, p.Handle, code)
		}
		// Acknowledge first: the central stops its round-trip timer on this response
		if err := s.send(l, &att.WriteResponse{}); err != nil {
			return err
		}
		s.deliver(l, p.Value)
		return nil

	case *att.WriteCommand:
		if code := s.checkWrite(l, p.Handle, p.Value); code != 0 {
			logger.Trace(s.tag(), "⚠️  Ignoring write command to 0x%04X: %s", p.Handle, att.NewError(code, att.OpWriteCommand, p.Handle))
			return nil
		}
		s.deliver(l, p.Value)
		return nil

	default:
		return s.sendError(l, opcode, 0, att.ErrRequestNotSupported)
	}
}

func (s *Server) table() (*AttributeDatabase, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return NewAttributeDatabase(), 0
	}
	return s.db, s.valueHandle
}

func (s *Server) checkWrite(l *serverLink, handle uint16, value []byte) uint8 {
	db, _ := s.table()
	a, ok := db.Attribute(handle)
	if !ok {
		return att.ErrInvalidHandle
	}
	if !a.Writable() {
		return att.ErrWriteNotPermitted
	}
	if len(value) > l.mtu-3 {
		return att.ErrInvalidAttributeValueLength
	}
	return 0
}

func (s *Server) deliver(l *serverLink, value []byte) {
	s.mu.Lock()
	h := s.handler
	active := s.state == StateAdvertising
	s.mu.Unlock()
	if h == nil || !active {
		return
	}
	h(l.remoteAddress, value)
}

func (s *Server) send(l *serverLink, pkt interface{}) error {
	data, err := att.EncodePacket(pkt)
	if err != nil {
		return err
	}
	p := l2cap.NewATTPacket(data)
	s.tracer.L2CAP(debug.TX, l.remoteAddress, p)
	return l2cap.WritePacket(l.nc, p)
}

func (s *Server) sendError(l *serverLink, requestOpcode uint8, handle uint16, code uint8) error {
	return s.send(l, &att.ErrorResponse{RequestOpcode: requestOpcode, Handle: handle, ErrorCode: code})
}

func (s *Server) tag() string {
	return util.ShortHash(s.adapter.HardwareUUID()) + " GATT"
}

// String is used in logs
func (s *Server) String() string {
	state, _ := s.State()
	return fmt.Sprintf("gatt.Server(%s, %s)", s.adapter.Address(), state)
}
