package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore collection names.
const (
	colUsers    = "users"
	colPayments = "payments"
	colCashOuts = "cashOut"
	colSupport  = "suporte"
)

// Compile-time check: *FirestoreRepository must satisfy Repository.
var _ Repository = (*FirestoreRepository)(nil)

// FirestoreRepository stores the domain in Cloud Firestore documents.
type FirestoreRepository struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestore wraps an initialised Firestore client. The repository owns the client
// and closes it on Close.
func NewFirestore(client *firestore.Client, logger *slog.Logger) *FirestoreRepository {
	return &FirestoreRepository{
		client: client,
		logger: logger.With("component", "repo_firestore"),
	}
}

type fsUser struct {
	Name                string           `firestore:"name"`
	Email               string           `firestore:"email"`
	TotalCredits        int64            `firestore:"totalCredits"`
	TotalPoints         int64            `firestore:"totalPoints"`
	CorrectAnswers      int64            `firestore:"correctAnswers"`
	WrongAnswers        int64            `firestore:"wrongAnswers"`
	PurchaseToken       string           `firestore:"purchaseToken,omitempty"`
	PurchaseTokenPrefix string           `firestore:"purchaseTokenPrefix,omitempty"`
	ChatID              *int64           `firestore:"chatId,omitempty"`
	CPF                 string           `firestore:"cpf,omitempty"`
	CNPJ                string           `firestore:"cnpj,omitempty"`
	PackagePurchases    map[string]int64 `firestore:"packagePurchases"`
	CreatedAt           time.Time        `firestore:"createdAt"`
	UpdatedAt           time.Time        `firestore:"updatedAt"`
}

type fsPayment struct {
	ReferenceID               string     `firestore:"referenceId,omitempty"`
	UserID                    string     `firestore:"userId"`
	PSPID                     string     `firestore:"pspId,omitempty"`
	PayerName                 string     `firestore:"payerName"`
	PayerEmail                string     `firestore:"payerEmail"`
	PayerDocument             string     `firestore:"payerDocument"`
	PayerDocumentType         string     `firestore:"payerDocumentType"`
	TotalAmount               float64    `firestore:"totalAmount"`
	CreditsToReceive          int64      `firestore:"creditsToReceive"`
	UserCreditsBeforePurchase *int64     `firestore:"userCreditsBeforePurchase,omitempty"`
	Status                    string     `firestore:"status"`
	PixQRCode                 string     `firestore:"pixQrCode"`
	PixQRImage                string     `firestore:"pixQrImage"`
	ChatID                    *int64     `firestore:"chatId,omitempty"`
	PackageID                 string     `firestore:"packageId"`
	ProviderError             string     `firestore:"providerError,omitempty"`
	ExpiresAt                 *time.Time `firestore:"expiresAt,omitempty"`
	CreatedAt                 time.Time  `firestore:"createdAt"`
	UpdatedAt                 time.Time  `firestore:"updatedAt"`
}

type fsCashOut struct {
	UserID    string    `firestore:"userId"`
	Value     int64     `firestore:"value"`
	PixKey    string    `firestore:"chavePix"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type fsSupportTicket struct {
	UserID    string    `firestore:"userId"`
	Email     string    `firestore:"email"`
	Subject   string    `firestore:"subject"`
	Message   string    `firestore:"message"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func userDoc(u User) fsUser {
	return fsUser{
		Name:                u.Name,
		Email:               u.Email,
		TotalCredits:        u.TotalCredits,
		TotalPoints:         u.TotalPoints,
		CorrectAnswers:      u.CorrectAnswers,
		WrongAnswers:        u.WrongAnswers,
		PurchaseToken:       u.PurchaseToken,
		PurchaseTokenPrefix: u.PurchaseTokenPrefix,
		ChatID:              u.ChatID,
		CPF:                 u.CPF,
		CNPJ:                u.CNPJ,
		PackagePurchases:    clonePurchases(u.PackagePurchases),
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func decodeUser(snap *firestore.DocumentSnapshot) (*User, error) {
	var d fsUser
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
	}
	purchases := d.PackagePurchases
	if purchases == nil {
		purchases = map[string]int64{}
	}
	return &User{
		ID:                  snap.Ref.ID,
		Name:                d.Name,
		Email:               d.Email,
		TotalCredits:        d.TotalCredits,
		TotalPoints:         d.TotalPoints,
		CorrectAnswers:      d.CorrectAnswers,
		WrongAnswers:        d.WrongAnswers,
		PurchaseToken:       d.PurchaseToken,
		PurchaseTokenPrefix: d.PurchaseTokenPrefix,
		ChatID:              d.ChatID,
		CPF:                 d.CPF,
		CNPJ:                d.CNPJ,
		PackagePurchases:    purchases,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}, nil
}

func decodePayment(snap *firestore.DocumentSnapshot) (*Payment, error) {
	var d fsPayment
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
	}
	return &Payment{
		ID:                        snap.Ref.ID,
		ReferenceID:               d.ReferenceID,
		UserID:                    d.UserID,
		PSPID:                     d.PSPID,
		PayerName:                 d.PayerName,
		PayerEmail:                d.PayerEmail,
		PayerDocument:             d.PayerDocument,
		PayerDocumentType:         d.PayerDocumentType,
		TotalAmount:               decimal.NewFromFloat(d.TotalAmount).Round(2),
		CreditsToReceive:          d.CreditsToReceive,
		UserCreditsBeforePurchase: d.UserCreditsBeforePurchase,
		Status:                    d.Status,
		PixQRCode:                 d.PixQRCode,
		PixQRImage:                d.PixQRImage,
		ChatID:                    d.ChatID,
		PackageID:                 d.PackageID,
		ProviderError:             d.ProviderError,
		ExpiresAt:                 d.ExpiresAt,
		CreatedAt:                 d.CreatedAt,
		UpdatedAt:                 d.UpdatedAt,
	}, nil
}

func fsNotFound(err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

// Close releases the Firestore client.
func (r *FirestoreRepository) Close() {
	if r.client == nil {
		return
	}
	if err := r.client.Close(); err != nil {
		r.logger.Warn("close firestore client", "error", err)
	}
}

// Ping issues a single-document read against the users collection.
func (r *FirestoreRepository) Ping(ctx context.Context) error {
	iter := r.client.Collection(colUsers).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

// RunMigrations is a no-op: Firestore collections are schemaless.
func (r *FirestoreRepository) RunMigrations(ctx context.Context, _ fs.FS) error {
	r.logger.Debug("firestore backend has no migrations")
	return nil
}

func (r *FirestoreRepository) first(ctx context.Context, q firestore.Query) (*firestore.DocumentSnapshot, error) {
	iter := q.Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// -- Users --

func (r *FirestoreRepository) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == "" {
		user.ID = randomUUID()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	if user.PackagePurchases == nil {
		user.PackagePurchases = map[string]int64{}
	}
	if _, err := r.client.Collection(colUsers).Doc(user.ID).Create(ctx, userDoc(user)); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func (r *FirestoreRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	snap, err := r.client.Collection(colUsers).Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", fsNotFound(err))
	}
	return decodeUser(snap)
}

func (r *FirestoreRepository) FindUserByPurchaseToken(ctx context.Context, token string) (*User, error) {
	return r.findUser(ctx, "find user by purchase token", "purchaseToken", token)
}

func (r *FirestoreRepository) FindUserByTokenPrefix(ctx context.Context, prefix string) (*User, error) {
	return r.findUser(ctx, "find user by token prefix", "purchaseTokenPrefix", prefix)
}

func (r *FirestoreRepository) FindUserByChatID(ctx context.Context, chatID int64) (*User, error) {
	return r.findUser(ctx, "find user by chat id", "chatId", chatID)
}

func (r *FirestoreRepository) findUser(ctx context.Context, op, field string, value any) (*User, error) {
	snap, err := r.first(ctx, r.client.Collection(colUsers).Where(field, "==", value))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeUser(snap)
}

func (r *FirestoreRepository) ListUsers(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, r.client.Collection(colUsers).Query)
}

func (r *FirestoreRepository) ListTopUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.listUsers(ctx, r.client.Collection(colUsers).OrderBy("totalPoints", firestore.Desc).Limit(limit))
}

func (r *FirestoreRepository) listUsers(ctx context.Context, q firestore.Query) ([]User, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var users []User
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		u, err := decodeUser(snap)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

func (r *FirestoreRepository) SetPurchaseToken(ctx context.Context, userID, token, prefix string) error {
	return r.update(ctx, colUsers, userID, "set purchase token", []firestore.Update{
		{Path: "purchaseToken", Value: token},
		{Path: "purchaseTokenPrefix", Value: prefix},
	})
}

func (r *FirestoreRepository) AttachChatID(ctx context.Context, userID string, chatID int64) error {
	users := r.client.Collection(colUsers)
	ref := users.Doc(userID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return fsNotFound(err)
		}
		linked, err := tx.Documents(users.Where("chatId", "==", chatID)).GetAll()
		if err != nil {
			return fmt.Errorf("query linked users: %w", err)
		}
		now := time.Now().UTC()
		for _, doc := range linked {
			if doc.Ref.ID == userID {
				continue
			}
			if err := tx.Update(doc.Ref, []firestore.Update{
				{Path: "chatId", Value: firestore.Delete},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "chatId", Value: chatID},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return fmt.Errorf("attach chat id %s: %w", userID, err)
	}
	return nil
}

func (r *FirestoreRepository) update(ctx context.Context, collection, id, op string, updates []firestore.Update) error {
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now().UTC()})
	if _, err := r.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("%s %s: %w", op, id, fsNotFound(err))
	}
	return nil
}

// -- Payments --

func (r *FirestoreRepository) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	if payment.ID == "" {
		payment.ID = randomUUID()
	}
	now := time.Now().UTC()
	payment.CreatedAt, payment.UpdatedAt = now, now
	payment.PSPID = strings.ToLower(payment.PSPID)
	amount, _ := payment.TotalAmount.Round(2).Float64()

	doc := fsPayment{
		ReferenceID:               payment.ReferenceID,
		UserID:                    payment.UserID,
		PSPID:                     payment.PSPID,
		PayerName:                 payment.PayerName,
		PayerEmail:                payment.PayerEmail,
		PayerDocument:             payment.PayerDocument,
		PayerDocumentType:         payment.PayerDocumentType,
		TotalAmount:               amount,
		CreditsToReceive:          payment.CreditsToReceive,
		UserCreditsBeforePurchase: payment.UserCreditsBeforePurchase,
		Status:                    payment.Status,
		PixQRCode:                 payment.PixQRCode,
		PixQRImage:                payment.PixQRImage,
		ChatID:                    payment.ChatID,
		PackageID:                 payment.PackageID,
		ProviderError:             payment.ProviderError,
		ExpiresAt:                 payment.ExpiresAt,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if _, err := r.client.Collection(colPayments).Doc(payment.ID).Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return &payment, nil
}

func (r *FirestoreRepository) GetPaymentByID(ctx context.Context, id string) (*Payment, error) {
	snap, err := r.client.Collection(colPayments).Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get payment by id: %w", fsNotFound(err))
	}
	return decodePayment(snap)
}

func (r *FirestoreRepository) FindPaymentByPSPID(ctx context.Context, pspID string) (*Payment, error) {
	q := r.client.Collection(colPayments).Where("pspId", "==", strings.ToLower(strings.TrimSpace(pspID)))
	snap, err := r.first(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find payment by psp id: %w", err)
	}
	return decodePayment(snap)
}

func (r *FirestoreRepository) UpdatePaymentCharge(ctx context.Context, id string, update ChargeUpdate) error {
	var updates []firestore.Update
	add := func(path, value string) {
		if value != "" {
			updates = append(updates, firestore.Update{Path: path, Value: value})
		}
	}
	add("status", update.Status)
	add("pspId", strings.ToLower(update.PSPID))
	add("pixQrCode", update.PixQRCode)
	add("pixQrImage", update.PixQRImage)
	add("providerError", update.ProviderError)
	return r.update(ctx, colPayments, id, "update payment charge", updates)
}

func (r *FirestoreRepository) SumPaidAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	iter := r.client.Collection(colPayments).
		Where("userId", "==", userID).
		Where("status", "==", StatusPaid).
		Documents(ctx)
	defer iter.Stop()

	total := decimal.Zero
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum paid amount: %w", err)
		}
		p, err := decodePayment(snap)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(p.TotalAmount)
	}
	return total, nil
}

// -- Credit mutations --

// SettlePayment reads the payment and its owner inside a Firestore transaction. The
// closure may be retried on contention, so outcome is recomputed on every attempt.
func (r *FirestoreRepository) SettlePayment(ctx context.Context, paymentID, userID string, decide SettleFunc) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	payRef := r.client.Collection(colPayments).Doc(paymentID)
	userRef := r.client.Collection(colUsers).Doc(userID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		paySnap, err := tx.Get(payRef)
		if err != nil {
			return fmt.Errorf("read payment: %w", fsNotFound(err))
		}
		userSnap, err := tx.Get(userRef)
		if err != nil {
			return fmt.Errorf("read user: %w", fsNotFound(err))
		}
		payment, err := decodePayment(paySnap)
		if err != nil {
			return err
		}
		user, err := decodeUser(userSnap)
		if err != nil {
			return err
		}

		outcome = decide(*payment, *user)
		if outcome != SettlementApply {
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Update(payRef, []firestore.Update{
			{Path: "status", Value: StatusPaid},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return fmt.Errorf("mark payment paid: %w", err)
		}
		return tx.Update(userRef, []firestore.Update{
			{Path: "totalCredits", Value: user.TotalCredits + payment.CreditsToReceive},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return outcome, fmt.Errorf("settle payment %s: %w", paymentID, err)
	}
	return outcome, nil
}

func (r *FirestoreRepository) CreateCashOut(ctx context.Context, cashOut CashOut, check UserCheck) (*CashOut, error) {
	if cashOut.ID == "" {
		cashOut.ID = randomUUID()
	}
	if cashOut.Status == "" {
		cashOut.Status = CashOutPending
	}
	userRef := r.client.Collection(colUsers).Doc(cashOut.UserID)
	cashRef := r.client.Collection(colCashOuts).Doc(cashOut.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(userRef)
		if err != nil {
			return fmt.Errorf("read user: %w", fsNotFound(err))
		}
		user, err := decodeUser(snap)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*user); err != nil {
				return err
			}
		}
		cashOut.CreatedAt = time.Now().UTC()
		if err := tx.Create(cashRef, fsCashOut{
			UserID:    cashOut.UserID,
			Value:     cashOut.Value,
			PixKey:    cashOut.PixKey,
			Status:    cashOut.Status,
			CreatedAt: cashOut.CreatedAt,
		}); err != nil {
			return fmt.Errorf("insert cash out: %w", err)
		}
		return tx.Update(userRef, []firestore.Update{
			{Path: "totalCredits", Value: user.TotalCredits - cashOut.Value},
			{Path: "updatedAt", Value: cashOut.CreatedAt},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create cash out: %w", err)
	}
	return &cashOut, nil
}

func (r *FirestoreRepository) ApplyRound(ctx context.Context, round RoundResult, check UserCheck) (*User, error) {
	var updated User
	userRef := r.client.Collection(colUsers).Doc(round.UserID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(userRef)
		if err != nil {
			return fmt.Errorf("read user: %w", fsNotFound(err))
		}
		user, err := decodeUser(snap)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*user); err != nil {
				return err
			}
		}
		updated = applyRoundTo(*user, round)
		updated.UpdatedAt = time.Now().UTC()
		return tx.Update(userRef, []firestore.Update{
			{Path: "totalCredits", Value: updated.TotalCredits},
			{Path: "totalPoints", Value: updated.TotalPoints},
			{Path: "correctAnswers", Value: updated.CorrectAnswers},
			{Path: "wrongAnswers", Value: updated.WrongAnswers},
			{Path: "packagePurchases", Value: updated.PackagePurchases},
			{Path: "updatedAt", Value: updated.UpdatedAt},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("apply round: %w", err)
	}
	return &updated, nil
}

// -- Support --

func (r *FirestoreRepository) InsertSupportTicket(ctx context.Context, ticket SupportTicket) (*SupportTicket, error) {
	if ticket.ID == "" {
		ticket.ID = randomUUID()
	}
	if ticket.Status == "" {
		ticket.Status = SupportOpen
	}
	ticket.CreatedAt = time.Now().UTC()
	_, err := r.client.Collection(colSupport).Doc(ticket.ID).Set(ctx, fsSupportTicket{
		UserID:    ticket.UserID,
		Email:     ticket.Email,
		Subject:   ticket.Subject,
		Message:   ticket.Message,
		Status:    ticket.Status,
		CreatedAt: ticket.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert support ticket: %w", err)
	}
	return &ticket, nil
}
