package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fiveDigitSymbol() SymbolInfo {
	return SymbolInfo{
		Name:         "EURUSD",
		Digits:       5,
		Point:        0.00001,
		ContractSize: 100000,
		VolumeMin:    0.01,
		VolumeMax:    100,
		VolumeStep:   0.01,
		TickSize:     0.00001,
		TickValue:    1.0,
		CurrencyPair: true,
	}
}

func TestSymbolInfo_Pip(t *testing.T) {
	eurusd := fiveDigitSymbol()
	require.InDelta(t, 0.0001, eurusd.Pip(), 1e-12)

	usdjpy := SymbolInfo{Digits: 3, Point: 0.001}
	require.InDelta(t, 0.01, usdjpy.Pip(), 1e-12)

	// Index CFDs quote 2 digits; the pip equals the point.
	index := SymbolInfo{Digits: 2, Point: 0.01}
	require.InDelta(t, 0.01, index.Pip(), 1e-12)
}

func TestSymbolInfo_ClampVolume(t *testing.T) {
	info := fiveDigitSymbol()

	require.InDelta(t, 0.13, info.ClampVolume(0.1374), 1e-9)
	require.InDelta(t, 0.01, info.ClampVolume(0.004), 1e-9) // below min raises to min
	require.InDelta(t, 100, info.ClampVolume(250), 1e-9)    // above max clamps
	require.Zero(t, info.ClampVolume(0))
	require.Zero(t, info.ClampVolume(-1))
}

func TestSymbolInfo_ClampVolumeStepResidue(t *testing.T) {
	info := fiveDigitSymbol()
	info.VolumeStep = 0.1

	v := info.ClampVolume(0.3000000000000000444)
	require.InDelta(t, 0.3, v, 1e-12)
}

func TestSymbolInfo_RoundPrice(t *testing.T) {
	info := fiveDigitSymbol()
	require.InDelta(t, 1.10001, info.RoundPrice(1.1000149), 1e-12)
	require.InDelta(t, 1.10002, info.RoundPrice(1.1000151), 1e-12)
}

func TestSymbolInfo_Validate(t *testing.T) {
	require.NoError(t, fiveDigitSymbol().Validate())

	noName := fiveDigitSymbol()
	noName.Name = ""
	require.ErrorIs(t, noName.Validate(), ErrSymbolEmpty)

	badPoint := fiveDigitSymbol()
	badPoint.Point = 0
	require.ErrorIs(t, badPoint.Validate(), ErrInvalidPoint)

	badVolume := fiveDigitSymbol()
	badVolume.VolumeStep = 0
	require.ErrorIs(t, badVolume.Validate(), ErrInvalidVolumeBounds)

	badContract := fiveDigitSymbol()
	badContract.ContractSize = 0
	require.ErrorIs(t, badContract.Validate(), ErrInvalidContractSize)
}
