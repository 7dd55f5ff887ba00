package gateway

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"MarginView/internal/schema"
)

// Kind names an instruction of the lending program. The set mirrors what
// the program exposes; the builder only assembles arguments and account
// lists; all validation happens on-chain.
type Kind string

const (
	KindInitializeAccount Kind = "initialize_account"
	KindDeposit           Kind = "deposit"
	KindWithdraw          Kind = "withdraw"
	KindNewOrder          Kind = "new_order"
	KindCancelMyOrder     Kind = "cancel_my_order"
	KindSettleDebt        Kind = "settle_debt"
	KindSetStubPrice      Kind = "set_stub_price"
)

// Order sides as the program encodes them.
const (
	SideNumBorrow uint8 = 0
	SideNumLend   uint8 = 1
)

// anchorInstructionDiscriminator derives the 8-byte method selector the
// program's dispatcher expects.
func anchorInstructionDiscriminator(method string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + method))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// InstructionBuilder assembles program instructions for one market.
type InstructionBuilder struct {
	ProgramID solana.PublicKey
	Market    solana.PublicKey
}

// UserAccountAddress derives the PDA of owner's margin account on the
// market, plus its bump seed (the program re-derives and checks it).
func (b *InstructionBuilder) UserAccountAddress(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{b.Market.Bytes(), owner.Bytes()},
		b.ProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive user account: %w", err)
	}
	return addr, bump, nil
}

// MarketSigner derives the market's signing authority PDA.
func (b *InstructionBuilder) MarketSigner() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{b.Market.Bytes()}, b.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive market signer: %w", err)
	}
	return addr, nil
}

// InitializeAccount creates the owner's margin account PDA.
func (b *InstructionBuilder) InitializeAccount(owner solana.PublicKey) (solana.Instruction, error) {
	userAccount, bump, err := b.UserAccountAddress(owner)
	if err != nil {
		return nil, err
	}

	data := instructionData(KindInitializeAccount, func(buf []byte) []byte {
		return append(buf, bump)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(b.Market),
		solana.Meta(userAccount).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// Deposit moves amount from the owner's token account into the market vault.
func (b *InstructionBuilder) Deposit(owner, tokenSource, vault solana.PublicKey, amount uint64) (solana.Instruction, error) {
	userAccount, bump, err := b.UserAccountAddress(owner)
	if err != nil {
		return nil, err
	}

	data := instructionData(KindDeposit, func(buf []byte) []byte {
		buf = append(buf, bump)
		return appendU64(buf, amount)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(userAccount).WRITE(),
		solana.Meta(b.Market),
		solana.Meta(vault).WRITE(),
		solana.Meta(tokenSource).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, data), nil
}

// Withdraw moves amount out of the market vault. The program checks the
// resulting collateral against the oracle price, hence the extra accounts.
func (b *InstructionBuilder) Withdraw(owner, tokenDest, vault, priceOracle solana.PublicKey, amount uint64) (solana.Instruction, error) {
	userAccount, bump, err := b.UserAccountAddress(owner)
	if err != nil {
		return nil, err
	}
	marketSigner, err := b.MarketSigner()
	if err != nil {
		return nil, err
	}

	data := instructionData(KindWithdraw, func(buf []byte) []byte {
		buf = append(buf, bump)
		return appendU64(buf, amount)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(userAccount).WRITE(),
		solana.Meta(b.Market),
		solana.Meta(marketSigner),
		solana.Meta(vault).WRITE(),
		solana.Meta(tokenDest).WRITE(),
		solana.Meta(priceOracle),
		solana.Meta(solana.TokenProgramID),
	}, data), nil
}

// NewOrder places a lend or borrow order at the given rate and quantity.
// The orderbook header supplies the event queue and slab addresses the
// matching engine mutates.
func (b *InstructionBuilder) NewOrder(owner, orderbook, priceOracle solana.PublicKey, header *schema.OrderbookHeader, side uint8, interestRate, qty uint64) (solana.Instruction, error) {
	userAccount, bump, err := b.UserAccountAddress(owner)
	if err != nil {
		return nil, err
	}

	data := instructionData(KindNewOrder, func(buf []byte) []byte {
		buf = append(buf, bump, side)
		buf = appendU64(buf, interestRate)
		return appendU64(buf, qty)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(userAccount).WRITE(),
		solana.Meta(b.Market).WRITE(),
		solana.Meta(header.EventQueue).WRITE(),
		solana.Meta(orderbook).WRITE(),
		solana.Meta(header.Asks).WRITE(),
		solana.Meta(header.Bids).WRITE(),
		solana.Meta(priceOracle),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// CancelMyOrder removes the owner's resting order. Which slab the id lives
// in is the matching engine's concern; both travel along.
func (b *InstructionBuilder) CancelMyOrder(owner, orderbook solana.PublicKey, header *schema.OrderbookHeader, orderID schema.OrderID) (solana.Instruction, error) {
	userAccount, bump, err := b.UserAccountAddress(owner)
	if err != nil {
		return nil, err
	}

	data := instructionData(KindCancelMyOrder, func(buf []byte) []byte {
		buf = append(buf, bump)
		buf = appendU64(buf, orderID.Lo)
		return appendU64(buf, orderID.Hi)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(userAccount).WRITE(),
		solana.Meta(b.Market).WRITE(),
		solana.Meta(header.EventQueue).WRITE(),
		solana.Meta(orderbook).WRITE(),
		solana.Meta(header.Asks).WRITE(),
		solana.Meta(header.Bids).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// SettleDebt repays the debt in the given slot between the two accounts.
func (b *InstructionBuilder) SettleDebt(owner, borrower, lender solana.PublicKey, debtID uint16) (solana.Instruction, error) {
	borrowerAccount, bump, err := b.UserAccountAddress(borrower)
	if err != nil {
		return nil, err
	}
	lenderAccount, _, err := b.UserAccountAddress(lender)
	if err != nil {
		return nil, err
	}

	data := instructionData(KindSettleDebt, func(buf []byte) []byte {
		buf = append(buf, bump)
		return binary.LittleEndian.AppendUint16(buf, debtID)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(borrowerAccount).WRITE(),
		solana.Meta(lenderAccount).WRITE(),
		solana.Meta(b.Market).WRITE(),
	}, data), nil
}

// SetStubPrice updates the stub oracle. Admin tooling only; the oracle
// account co-signs the transaction.
func (b *InstructionBuilder) SetStubPrice(admin, stubPrice solana.PublicKey, price int64, conf uint64) solana.Instruction {
	data := instructionData(KindSetStubPrice, func(buf []byte) []byte {
		buf = appendU64(buf, uint64(price))
		return appendU64(buf, conf)
	})

	return solana.NewInstruction(b.ProgramID, solana.AccountMetaSlice{
		solana.Meta(admin).WRITE().SIGNER(),
		solana.Meta(stubPrice).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data)
}

func instructionData(kind Kind, args func([]byte) []byte) []byte {
	disc := anchorInstructionDiscriminator(string(kind))
	return args(disc[:])
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}
