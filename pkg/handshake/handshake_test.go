package handshake

import (
	"testing"
	"time"

	"github.com/veilnet/veil/internal/veilcrypto"
	"github.com/veilnet/veil/pkg/packetcodec"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func fixedPSKClock() fixedClock {
	return fixedClock{t: time.Unix(1_234_567_890, 0)}
}

func TestFullHandshakeCompletes(t *testing.T) {
	// Mirrors the literal scenario: identical all-zero PSK at fixed
	// Unix time, both sides reach Complete with equal session ids and
	// cross-equal derived keys.
	t.Parallel()
	clk := fixedPSKClock()
	var psk [32]byte

	initiator := New(Config{PSK: psk, IsInitiator: true}, clk)
	responder := New(Config{PSK: psk, IsInitiator: false}, clk)

	initFrame, err := initiator.Start()
	if err != nil {
		t.Fatal(err)
	}

	responseFrame, err := responder.HandleFrame(initFrame)
	if err != nil {
		t.Fatal(err)
	}
	if responseFrame == nil {
		t.Fatal("expected responder to produce a Response frame")
	}

	finishFrame, err := initiator.HandleFrame(responseFrame)
	if err != nil {
		t.Fatal(err)
	}
	if finishFrame == nil {
		t.Fatal("expected initiator to produce a Finish frame")
	}

	reply, err := responder.HandleFrame(finishFrame)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("responder should not reply to Finish")
	}

	if initiator.State() != StateComplete || responder.State() != StateComplete {
		t.Fatalf("expected both Complete, got initiator=%v responder=%v", initiator.State(), responder.State())
	}

	initID, _ := initiator.SessionID()
	respID, _ := responder.SessionID()
	if initID != respID {
		t.Fatalf("session ids differ: initiator=%d responder=%d", initID, respID)
	}

	initKeys, _ := initiator.SessionKeys()
	respKeys, _ := responder.SessionKeys()
	if initKeys.SendKey != respKeys.RecvKey || initKeys.RecvKey != respKeys.SendKey {
		t.Fatal("derived key pairs are not cross-equal")
	}
}

func TestDataPayloadAfterHandshake(t *testing.T) {
	// Mirrors the literal scenario: after handshake, a 13-byte payload
	// is exchangeable using the cross-equal derived keys.
	t.Parallel()
	clk := fixedPSKClock()
	var psk [32]byte
	initiator := New(Config{PSK: psk, IsInitiator: true}, clk)
	responder := New(Config{PSK: psk, IsInitiator: false}, clk)

	initFrame, _ := initiator.Start()
	responseFrame, _ := responder.HandleFrame(initFrame)
	finishFrame, _ := initiator.HandleFrame(responseFrame)
	responder.HandleFrame(finishFrame)

	initKeys, _ := initiator.SessionKeys()
	respKeys, _ := responder.SessionKeys()

	if initKeys.SendNonceBase != respKeys.RecvNonceBase {
		t.Fatal("nonce bases are not cross-equal")
	}

	sessionID, _ := initiator.SessionID()
	sendAEAD, err := veilcrypto.NewAEAD(initKeys.SendKey)
	if err != nil {
		t.Fatal(err)
	}
	recvAEAD, err := veilcrypto.NewAEAD(respKeys.RecvKey)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("Hello, World!")
	wire := packetcodec.Build(sendAEAD, initKeys.SendNonceBase, sessionID, 1,
		[]packetcodec.Frame{&packetcodec.DataFrame{Seq: 1, Payload: payload}})
	_, _, frames, err := packetcodec.Parse(recvAEAD, respKeys.RecvNonceBase, wire)
	if err != nil {
		t.Fatalf("responder could not open the initiator's packet: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	df, ok := frames[0].(*packetcodec.DataFrame)
	if !ok || df.Seq != 1 || len(df.Payload) != 13 || string(df.Payload) != "Hello, World!" {
		t.Fatalf("unexpected frame: %#v", frames[0])
	}
}

func TestHmacMismatchSilentlyDropped(t *testing.T) {
	// Mirrors the literal scenario: PSKs differ in a single bit.
	t.Parallel()
	clk := fixedPSKClock()
	var initiatorPSK, responderPSK [32]byte
	responderPSK[0] = 0x01

	initiator := New(Config{PSK: initiatorPSK, IsInitiator: true}, clk)
	responder := New(Config{PSK: responderPSK, IsInitiator: false}, clk)

	initFrame, _ := initiator.Start()
	reply, err := responder.HandleFrame(initFrame)
	if err != nil {
		t.Fatalf("expected silent drop (nil error), got %v", err)
	}
	if reply != nil {
		t.Fatal("expected no reply from the responder on HMAC mismatch")
	}
	if responder.HMACFailures() != 1 {
		t.Fatalf("HMACFailures = %d, want 1", responder.HMACFailures())
	}
	if initiator.State() != StateInitSent {
		t.Fatalf("initiator state = %v, want StateInitSent (unchanged)", initiator.State())
	}
}

func TestTamperedEnvelopeSilentlyDropped(t *testing.T) {
	t.Parallel()
	clk := fixedPSKClock()
	var psk [32]byte
	initiator := New(Config{PSK: psk, IsInitiator: true}, clk)
	responder := New(Config{PSK: psk, IsInitiator: false}, clk)

	initFrame, _ := initiator.Start()
	tampered := &packetcodec.HandshakeFrame{
		Stage:   initFrame.Stage,
		Payload: append([]byte(nil), initFrame.Payload...),
	}
	tampered.Payload[0] ^= 0xFF

	reply, err := responder.HandleFrame(tampered)
	if err != nil || reply != nil {
		t.Fatal("expected a silent drop for a tampered envelope")
	}
}

func TestTimestampOutOfToleranceSilentlyDropped(t *testing.T) {
	t.Parallel()
	var psk [32]byte
	initiatorClk := fixedClock{t: time.Unix(1_000_000_000, 0)}
	responderClk := fixedClock{t: time.Unix(1_000_000_000+120, 0)} // 120s skew > default 60s

	initiator := New(Config{PSK: psk, IsInitiator: true}, initiatorClk)
	responder := New(Config{PSK: psk, IsInitiator: false}, responderClk)

	initFrame, _ := initiator.Start()
	reply, err := responder.HandleFrame(initFrame)
	if err != nil || reply != nil {
		t.Fatal("expected a silent drop for an out-of-tolerance timestamp")
	}
	if responder.TimestampDrops() != 1 {
		t.Fatalf("TimestampDrops = %d, want 1", responder.TimestampDrops())
	}
}

func TestWeakSharedSecretFailsHandshake(t *testing.T) {
	t.Parallel()
	clk := fixedPSKClock()
	var psk [32]byte
	responder := New(Config{PSK: psk, IsInitiator: false}, clk)

	// Craft an Init frame carrying the all-zero X25519 public key, a
	// known low-order point that forces a weak shared secret.
	var zeroPub [32]byte
	envelope := marshalEnvelope(byte(packetcodec.HandshakeInit), uint64(clk.Now().Unix()), zeroPub[:], psk[:])
	frame := &packetcodec.HandshakeFrame{Stage: packetcodec.HandshakeInit, Payload: envelope}

	_, err := responder.HandleFrame(frame)
	if err != ErrKeyExchangeFailed {
		t.Fatalf("expected ErrKeyExchangeFailed, got %v", err)
	}
	if responder.State() != StateFailed {
		t.Fatalf("expected StateFailed, got %v", responder.State())
	}
}

func TestStartRejectsResponder(t *testing.T) {
	t.Parallel()
	var psk [32]byte
	responder := New(Config{PSK: psk, IsInitiator: false}, nil)
	if _, err := responder.Start(); err != ErrNotInitiator {
		t.Fatalf("expected ErrNotInitiator, got %v", err)
	}
}
