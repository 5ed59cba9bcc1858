package service_test

import (
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
)

func (s *IntegrationTestSuite) TestProductCreate_DefaultsToOrderCurrency() {
	p, err := s.ProductService.Create(s.Ctx, &domain.Product{Name: "Flan", PriceCents: 1800, Stock: 4, Available: true}, staff)
	s.Require().NoError(err)
	s.Require().Equal("MXN", p.Currency)

	order := s.createOrder(student, domain.ItemInput{ProductID: p.ID, Quantity: 1})
	s.Require().Equal(int64(1800), order.Total.Cents())
}

func (s *IntegrationTestSuite) TestProductCreate_RejectsForeignCurrency() {
	_, err := s.ProductService.Create(s.Ctx, &domain.Product{
		Name:       "Imported soda",
		PriceCents: 150,
		Currency:   "USD",
		Stock:      5,
	}, staff)

	var validationErr *domain.ValidationError
	s.Require().ErrorAs(err, &validationErr)
	s.Require().Equal("currency", validationErr.Field)
	s.Require().ErrorIs(err, domain.ErrValidation)
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM products`))
}

func (s *IntegrationTestSuite) TestProductCreate_RequiresStaff() {
	_, err := s.ProductService.Create(s.Ctx, &domain.Product{Name: "Flan", PriceCents: 1800}, student)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)
}
