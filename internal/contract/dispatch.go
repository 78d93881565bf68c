package contract

import (
	"CarbonLedger/internal/event"
	"fmt"
)

// Dispatch routes the env's call to its entry point. On error the caller
// must discard the Tx.
func Dispatch(env *Env) error {
	call := env.call

	switch call.Method {
	case event.MethodDeployToken:
		var args event.DeployTokenArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		return env.DeployToken(call.Contract, args.Admin, args.InitialSupply)

	case event.MethodDeployCommitment:
		var args event.DeployCommitmentArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		return env.DeployCommitment(call.Contract)

	case event.MethodMint:
		var args event.MintArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		tok, err := env.Token(call.Contract)
		if err != nil {
			return err
		}
		return tok.Mint(args.Recipient, args.Amount)

	case event.MethodTransfer:
		var args event.TransferArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		tok, err := env.Token(call.Contract)
		if err != nil {
			return err
		}
		return tok.Transfer(args.From, args.To, args.Amount)

	case event.MethodBurn:
		var args event.BurnArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		tok, err := env.Token(call.Contract)
		if err != nil {
			return err
		}
		return tok.Burn(args.Holder, args.Amount)

	case event.MethodCreate:
		var args event.CreateArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		cm, err := env.Commitment(call.Contract)
		if err != nil {
			return err
		}
		return cm.Create(args.Buyer, args.UnitPrice, args.TotalQuantity)

	case event.MethodAssign:
		var args event.AssignArgs
		if err := call.DecodeArgs(&args); err != nil {
			return err
		}
		cm, err := env.Commitment(call.Contract)
		if err != nil {
			return err
		}
		return cm.Assign(args.Seller, args.Token, args.Quantity)

	default:
		return fmt.Errorf("%w: unknown method %q", event.ErrMalformedCall, call.Method)
	}
}
