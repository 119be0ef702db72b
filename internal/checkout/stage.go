package checkout

import "fmt"

type Stage string

const (
	StageIdentification Stage = "identification"
	StageAddress        Stage = "address"
	StagePayment        Stage = "payment"
	StageConfirmation   Stage = "confirmation"
)

var stageOrder = []Stage{StageIdentification, StageAddress, StagePayment, StageConfirmation}

func (s Stage) String() string {
	return string(s)
}

func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// StageComplete is the completeness predicate gating forward moves out of st.
func (s *Session) StageComplete(st Stage) bool {
	switch st {
	case StageIdentification:
		return s.Customer.Complete()
	case StageAddress:
		return s.Address.Complete() && s.Shipping.ValidFor(s.Address)
	case StagePayment:
		return s.PaymentMethod.Valid()
	default:
		return false
	}
}

// Next moves one stage forward. Leaving Payment additionally requires a placed
// order, which is how a returning redirect payment reaches Confirmation.
func (s *Session) Next() error {
	switch s.Stage {
	case StageConfirmation:
		return ErrOrderAlreadyPlaced
	case StagePayment:
		if !s.StageComplete(StagePayment) {
			return incompleteStage(StagePayment)
		}
		if !s.OrderID.Valid {
			return ErrOrderNotPlaced
		}
		s.confirm()
		return nil
	}

	if !s.StageComplete(s.Stage) {
		return incompleteStage(s.Stage)
	}
	s.moveTo(stageOrder[s.Stage.Index()+1])
	return nil
}

// Back moves one stage backward without touching data entered anywhere.
func (s *Session) Back() error {
	if s.OrderID.Valid || s.Stage == StageConfirmation {
		return ErrOrderAlreadyPlaced
	}
	idx := s.Stage.Index()
	if idx <= 0 {
		return &ValidationError{Field: "stage", Message: "already at the first stage"}
	}
	s.Stage = stageOrder[idx-1]
	return nil
}

// GoTo jumps to target. Backward jumps are always allowed before placement;
// forward jumps only to an already reached stage with every stage in between
// complete. Confirmation is reached only through placement.
func (s *Session) GoTo(target Stage) error {
	if !target.Valid() {
		return &ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage %q", target)}
	}
	if s.OrderID.Valid || s.Stage == StageConfirmation {
		return ErrOrderAlreadyPlaced
	}
	if target == s.Stage {
		return nil
	}
	if target == StageConfirmation {
		return &ValidationError{Field: "stage", Message: "confirmation is reached by placing the order"}
	}

	from, to := s.Stage.Index(), target.Index()
	if to < from {
		s.Stage = target
		return nil
	}
	if to > s.Reached.Index() {
		return &ValidationError{Field: "stage", Message: fmt.Sprintf("stage %s has not been reached yet", target)}
	}
	for i := from; i < to; i++ {
		if !s.StageComplete(stageOrder[i]) {
			return incompleteStage(stageOrder[i])
		}
	}
	s.Stage = target
	return nil
}

// reconcileStage pulls the session back to the first incomplete stage before
// the current one, so an edit can never leave the buyer past a gate that no
// longer holds.
func (s *Session) reconcileStage() {
	if s.Stage == StageConfirmation {
		return
	}
	for i := 0; i < s.Stage.Index(); i++ {
		if !s.StageComplete(stageOrder[i]) {
			s.Stage = stageOrder[i]
			return
		}
	}
}

func (s *Session) moveTo(st Stage) {
	s.Stage = st
	if st.Index() > s.Reached.Index() {
		s.Reached = st
	}
}

func (s *Session) confirm() {
	s.moveTo(StageConfirmation)
	s.Cart.Lines = nil
}

func incompleteStage(st Stage) error {
	return &ValidationError{Field: st.String(), Message: "stage is incomplete"}
}
