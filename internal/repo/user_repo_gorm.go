package repo

import (
	"gorm.io/gorm"

	"ez-parking/internal/domain"
)

type UserRepo struct{ db *gorm.DB }

func (r *UserRepo) Create(u *domain.User) error { return translate(r.db.Create(u).Error) }

func (r *UserRepo) FindByID(id uint) (*domain.User, error) {
	return first[domain.User](r.db, "id = ?", id)
}

func (r *UserRepo) FindByUUID(uuid string) (*domain.User, error) {
	return first[domain.User](r.db, "uuid = ?", uuid)
}

func (r *UserRepo) FindByEmail(email string) (*domain.User, error) {
	return first[domain.User](r.db, "email = ?", email)
}

func (r *UserRepo) FindByPhone(phone string) (*domain.User, error) {
	return first[domain.User](r.db, "phone_number = ?", phone)
}

func (r *UserRepo) FindByPlate(plate string) (*domain.User, error) {
	return first[domain.User](r.db, "plate_number = ?", plate)
}

func (r *UserRepo) FindByVerificationToken(token string) (*domain.User, error) {
	return first[domain.User](r.db, "verification_token = ?", token)
}

func (r *UserRepo) Update(u *domain.User) error { return translate(r.db.Save(u).Error) }
