package chain

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"QuantaCasino/internal/wallet"
)

// systemProgramID is the Solana system program (all-zero public key).
var systemProgramID = make([]byte, 32)

// transferInstruction is the system program's transfer variant index.
const transferInstruction = 2

// TransferTx is a signed legacy transaction ready for submission, with
// its unsigned message retained for fee quoting.
type TransferTx struct {
	Signed  string // base64 wire transaction
	Message string // base64 message only, for getFeeForMessage
}

// BuildTransfer assembles and signs a legacy system-program transfer of
// lamports from the keypair to the destination address.
//
// Legacy wire layout: compact-u16 signature count + signatures, then the
// message: header (numRequiredSignatures, numReadonlySigned,
// numReadonlyUnsigned), compact-u16 account list, recent blockhash, and
// compact-u16 instruction list.
func BuildTransfer(kp *wallet.Keypair, destination string, lamports uint64, recentBlockhash string) (*TransferTx, error) {
	dest, err := wallet.DecodeAddress(destination)
	if err != nil {
		return nil, err
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return nil, fmt.Errorf("chain: bad recent blockhash %q", recentBlockhash)
	}

	msg := buildTransferMessage(kp.PublicKey(), dest, blockhash, lamports)
	sig := kp.Sign(msg)

	wire := make([]byte, 0, 1+len(sig)+len(msg))
	wire = appendCompactU16(wire, 1)
	wire = append(wire, sig...)
	wire = append(wire, msg...)

	return &TransferTx{
		Signed:  base64.StdEncoding.EncodeToString(wire),
		Message: base64.StdEncoding.EncodeToString(msg),
	}, nil
}

func buildTransferMessage(from, to, blockhash []byte, lamports uint64) []byte {
	// Accounts: 0 = fee payer / source (signer, writable), 1 = destination
	// (writable), 2 = system program (readonly, unsigned).
	msg := []byte{1, 0, 1}
	msg = appendCompactU16(msg, 3)
	msg = append(msg, from...)
	msg = append(msg, to...)
	msg = append(msg, systemProgramID...)
	msg = append(msg, blockhash...)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], transferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	msg = appendCompactU16(msg, 1)  // one instruction
	msg = append(msg, 2)            // program id index
	msg = appendCompactU16(msg, 2)  // two instruction accounts
	msg = append(msg, 0, 1)         // source, destination
	msg = appendCompactU16(msg, 12) // data length
	msg = append(msg, data...)
	return msg
}

// appendCompactU16 appends n in the shortvec encoding: 7 bits per byte,
// high bit set on continuation.
func appendCompactU16(b []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(b, byte(n))
		}
		b = append(b, byte(n&0x7f)|0x80)
		n >>= 7
	}
}
