package internal

import "errors"

var (
	// ErrUnsupportedCodec is returned when the container carries a track
	// outside the supported codec set.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrInvalidConfigurationRecord is returned for avcC/hvcC records whose
	// configurationVersion is not 1.
	ErrInvalidConfigurationRecord = errors.New("invalid codec configuration record")

	// ErrDiscoveryTimeout is returned when no IP discovery reply arrives
	// within the discovery window.
	ErrDiscoveryTimeout = errors.New("ip discovery timeout")

	// ErrGatewayFatal is returned for voice gateway close codes that must
	// not be resumed.
	ErrGatewayFatal = errors.New("voice gateway fatal close")

	// ErrEncryptorMissing indicates a send was attempted before
	// SELECT_PROTOCOL_ACK delivered the transport key.
	ErrEncryptorMissing = errors.New("transport encryptor not configured")

	// ErrInvalidStreamKey is returned for malformed stream keys.
	ErrInvalidStreamKey = errors.New("invalid stream key")
)
