package extract

// Search result card selectors. The site tags result markup with data-cy
// attributes, which are more stable than class names.
const (
	selPropertyCard  = `li[data-cy="rp-property-cd"]`
	selCardLocation  = `[data-cy="rp-cardProperty-location-txt"]`
	selCardStreet    = `[data-cy="rp-cardProperty-street-txt"]`
	selCardPrice     = `[data-cy="rp-cardProperty-price-txt"]`
	selCardArea      = `[data-cy="rp-cardProperty-propertyArea-txt"]`
	selCardBedrooms  = `[data-cy="rp-cardProperty-bedroomQuantity-txt"]`
	selCardBathrooms = `[data-cy="rp-cardProperty-bathroomQuantity-txt"]`
	selCardParking   = `[data-cy="rp-cardProperty-parkingSpacesQuantity-txt"]`
	selCardImage     = `[data-cy="rp-cardProperty-image-img"]`
)

// Listing page selectors.
const (
	selPriceValues   = `.price-info__values`
	selValueItem     = `.value-item`
	selValueTitle    = `.value-item__title`
	selValueAmount   = `.value-item__value`
	selAmenitiesBox  = `[data-testid="amenities-container"]`
	selAmenitiesAlt  = `.amenities-list`
	selAmenityItem   = `.amenities-item`
	selAmenityText   = `.amenities-item-text`
	selFullAddress   = `[data-testid="location-address"]`
	selAddressAlt    = `.location-address__text`
	selFullDesc      = `[data-testid="description-content"]`
	selDescAlt       = `.description__content--text`
	selAdvertiser    = `[data-testid="advertiser-info-header"]`
	selAdvName       = `.advertiser-header__credentials_name`
	selAdvPremium    = `.advertiser-header__premium-icon`
	selRatingBox     = `[data-testid="rating-container"]`
	selRatingText    = `.rating-container__text`
	selPropsBox      = `.properties-container`
	selAdvSince      = `.extended-advertiser-info__icon-text`
	selPropertyCodes = `[data-cy="ldp-propertyCodes-txt"]`
	selCreatedDate   = `[data-testid="listing-created-date"]`
	selCarousel      = `[data-testid="carousel-photos"]`
	selCarouselItem  = `.carousel-photos--item`
	selCarouselImage = `img[data-testid="carousel-item-image"]`
	selInfoPhone     = `[data-testid="info-phone"]`
	selWhatsappBtn   = `[data-cy="ldp-whatsapp-btn"]`
)

const (
	siteOrigin        = "https://www.zapimoveis.com.br"
	listingPathPrefix = "/imovel/"
	pageParam         = "page="
)
