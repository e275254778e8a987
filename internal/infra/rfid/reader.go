// Package rfid reads card UIDs from an MFRC522 module over SPI.
package rfid

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/experimental/devices/mfrc522"
	"periph.io/x/periph/experimental/devices/mfrc522/commands"

	"github.com/osa030/tagboxd/internal/domain/tag"
)

// Config represents MFRC522 wiring.
type Config struct {
	SPIDevice string
	ResetPin  string
	IRQPin    string
}

// Reader polls an MFRC522 for card UIDs. It implements monitor.Reader.
type Reader struct {
	port spi.PortCloser
	dev  *mfrc522.Dev
}

// New opens the SPI port and brings up the MFRC522.
func New(cfg Config) (*Reader, error) {
	port, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI port %s", cfg.SPIDevice)
	}

	resetPin := gpioreg.ByName(cfg.ResetPin)
	if resetPin == nil {
		port.Close()
		return nil, errors.Newf("reset pin %s not found", cfg.ResetPin)
	}
	irqPin := gpioreg.ByName(cfg.IRQPin)
	if irqPin == nil {
		port.Close()
		return nil, errors.Newf("irq pin %s not found", cfg.IRQPin)
	}

	dev, err := mfrc522.NewSPI(port, resetPin, irqPin)
	if err != nil {
		port.Close()
		return nil, errors.Wrap(err, "initializing mfrc522")
	}

	zlog.Info().
		Str("spi", cfg.SPIDevice).
		Str("reset", cfg.ResetPin).
		Str("irq", cfg.IRQPin).
		Msg("rfid reader ready")
	return &Reader{port: port, dev: dev}, nil
}

// ReadUID performs one request/anticollision round. No card in the field
// is reported as (zero, false, nil); errors after a card answered the
// request are real read errors. Cheap MFRC522 clones report garbage while
// a card is still at the edge of the field, so short anticollision frames
// are treated as errors and left to the caller's debounce.
func (r *Reader) ReadUID() (tag.ID, bool, error) {
	if err := r.dev.LowLevel.Init(); err != nil {
		return "", false, errors.Wrap(err, "resetting mfrc522")
	}

	if err := r.dev.LowLevel.DevWrite(commands.BitFramingReg, 0x07); err != nil {
		return "", false, errors.Wrap(err, "writing bit framing")
	}
	_, backBits, err := r.dev.LowLevel.CardWrite(commands.PCD_TRANSCEIVE, []byte{commands.PICC_REQIDL})
	if err != nil || backBits != 0x10 {
		// Nothing answered the request: the field is empty.
		return "", false, nil
	}

	if err := r.dev.LowLevel.DevWrite(commands.BitFramingReg, 0x00); err != nil {
		return "", false, errors.Wrap(err, "writing bit framing")
	}
	data, _, err := r.dev.LowLevel.CardWrite(commands.PCD_TRANSCEIVE, []byte{commands.PICC_ANTICOLL, 0x20})
	if err != nil {
		return "", false, errors.Wrap(err, "anticollision")
	}
	if len(data) != 5 {
		return "", false, errors.Newf("anticollision returned %d bytes, want 5", len(data))
	}

	crc := byte(0)
	for _, b := range data[:4] {
		crc ^= b
	}
	if crc != data[4] {
		return "", false, errors.Newf("uid checksum mismatch: %02x != %02x", crc, data[4])
	}

	return tag.IDFromBytes(data[:4]), true, nil
}

// Close powers the antenna down and releases the SPI port.
func (r *Reader) Close() error {
	if err := r.dev.Halt(); err != nil {
		zlog.Warn().Err(err).Msg("halting mfrc522")
	}
	return r.port.Close()
}
